package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/tish/internal/audio"
	"github.com/sjawhar/tish/internal/gdrive"
	"github.com/sjawhar/tish/internal/server"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/storage"
)

const driveSyncInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	hub := server.NewHub()
	opts := server.Options{
		Orchestrator: a.orch,
		Synthesizer:  a.synth,
		Transcriber:  a.stt,
		Archive:      a.store,
		SampleRate:   audio.DefaultSampleRate,
		Region:       a.cfg.Region,
		Warnings:     func() []string { return a.warnings },
		Metrics:      a.metrics,
	}
	if rec := a.recognizer(audio.DefaultSampleRate); rec != nil {
		opts.NewCapture = func() *session.Capture {
			return session.NewCapture(rec, a.captureConfig())
		}
	}
	if a.provider != nil {
		opts.MetricsHandler = a.provider.Handler()
	}

	handler, err := server.Handler(hub, opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, a.cfg.ListenAddr, handler)
	})

	if a.cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, a.cfg.GoogleCredentialsFile, a.cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			g.Go(func() error {
				syncTranscripts(gctx, syncer, a.writer, driveSyncInterval)
				return nil
			})
		}
	}

	log.Printf("tish: serving on %s", a.cfg.ListenAddr)
	err = g.Wait()
	log.Println("tish: shutting down")
	return err
}

type transcriptSyncer interface {
	Sync(ctx context.Context, localPath, date string) error
}

// syncTranscripts uploads today's transcript every interval until ctx is done.
func syncTranscripts(ctx context.Context, syncer transcriptSyncer, writer *storage.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if err := syncer.Sync(ctx, writer.PathFor(now), now.Format("2006-01-02")); err != nil {
				log.Printf("gdrive sync error: %v", err)
			}
		}
	}
}
