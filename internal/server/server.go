package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sjawhar/tish/internal/observe"
	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/speech"
	"github.com/sjawhar/tish/internal/transcribe"
)

// Options wires the HTTP surface to the pipeline. Only Orchestrator is
// required; routes whose dependency is nil answer 503.
type Options struct {
	Orchestrator *pipeline.Orchestrator
	Synthesizer  speech.Synthesizer
	Transcriber  transcribe.Transcriber
	Archive      ArchiveStore

	// NewCapture builds a capture session for one /ws/listen connection.
	NewCapture func() *session.Capture
	// SampleRate of the PCM that /ws/listen clients send.
	SampleRate int

	Region   string
	Warnings func() []string

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Metrics        *observe.Metrics
}

// Handler builds the mux and subscribes hub to the orchestrator's turn and
// reset hooks.
func Handler(hub *Hub, opts Options) (http.Handler, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("server: orchestrator is required")
	}

	opts.Orchestrator.OnTurn(hub.BroadcastTurnCompleted)
	opts.Orchestrator.OnReset(hub.BroadcastHistoryReset)

	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerListenRoute(mux, hub, opts)
	registerAPIRoutes(mux, opts)

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return mux, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	httpServer := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tish: http on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
		return err
	}
	return nil
}
