package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/tish/internal/audio"
	"github.com/sjawhar/tish/internal/observe"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/transcribe"
)

type ListenerConfig struct {
	// Recorder buffers the raw audio of the utterance in progress for Backup.
	Recorder *audio.Recorder
	// Backup transcribes the buffered audio when a manual stop finds no live
	// transcript.
	Backup transcribe.Transcriber
	// Continuous reopens the capture after each silence-committed turn.
	Continuous bool
	Metrics    *observe.Metrics
	Logger     *slog.Logger
}

// Listener feeds committed utterances from a capture session into the
// orchestrator. A silence commit stops the capture while the turn runs.
type Listener struct {
	orch       *Orchestrator
	capture    *session.Capture
	recorder   *audio.Recorder
	backup     transcribe.Transcriber
	continuous bool
	metrics    *observe.Metrics
	logger     *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	active      bool
	onUtterance func(session.Utterance)
	onReply     func(*TurnResult)
	onError     func(error)

	wg sync.WaitGroup
}

func NewListener(orch *Orchestrator, capture *session.Capture, cfg ListenerConfig) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Listener{
		orch:       orch,
		capture:    capture,
		recorder:   cfg.Recorder,
		backup:     cfg.Backup,
		continuous: cfg.Continuous,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		ctx:        context.Background(),
	}
	if cfg.Recorder != nil {
		capture.SetTee(cfg.Recorder)
	}
	capture.OnUtterance(l.handleUtterance)
	capture.OnError(l.report)
	return l
}

// OnUtterance registers a callback for every committed utterance, before its
// turn runs.
func (l *Listener) OnUtterance(cb func(session.Utterance)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onUtterance = cb
}

// OnReply registers a callback for every completed turn.
func (l *Listener) OnReply(cb func(*TurnResult)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReply = cb
}

// OnError registers a callback for capture and backup transcription failures.
// transcribe.ErrNoSpeech and transcribe.ErrTimeout are reported here too.
func (l *Listener) OnError(cb func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = cb
}

func (l *Listener) Capture() *session.Capture {
	return l.capture
}

// Start begins listening. Cancelling ctx stops the capture from resuming;
// turns already committed run to completion under Detach.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = true
	l.ctx = ctx
	l.mu.Unlock()

	if err := l.startCapture(ctx); err != nil {
		l.mu.Lock()
		l.active = false
		l.mu.Unlock()
		return err
	}
	l.metrics.ListenerStarted(ctx)
	return nil
}

func (l *Listener) startCapture(ctx context.Context) error {
	if l.recorder != nil {
		l.recorder.Reset()
	}
	return l.capture.Start(ctx)
}

// Write forwards audio to the capture. Audio arriving while no utterance is
// being captured, such as during a reply, is dropped.
func (l *Listener) Write(p []byte) (int, error) {
	n, err := l.capture.Write(p)
	if errors.Is(err, session.ErrNotListening) {
		return len(p), nil
	}
	return n, err
}

// Stop ends listening. Finalized text is flushed as a turn; when nothing was
// transcribed live, buffered audio is sent to the backup transcriber.
func (l *Listener) Stop() {
	l.mu.Lock()
	wasActive := l.active
	l.active = false
	ctx := l.ctx
	l.mu.Unlock()

	if wasActive {
		l.metrics.ListenerStopped(ctx)
	}

	if _, flushed := l.capture.Stop(); flushed {
		if l.recorder != nil {
			l.recorder.Reset()
		}
		return
	}
	if l.recorder == nil || l.backup == nil {
		return
	}

	wav, err := l.recorder.Take()
	if err != nil {
		l.report(err)
		return
	}
	if wav == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.transcribeBackup(ctx, wav)
	}()
}

// Wait blocks until every turn started by the listener has finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) handleUtterance(u session.Utterance) {
	resume := false
	if u.Reason == session.CommitSilence {
		l.capture.Stop()
		if l.recorder != nil {
			l.recorder.Reset()
		}

		l.mu.Lock()
		if l.continuous {
			resume = l.active
		} else if l.active {
			l.active = false
			l.metrics.ListenerStopped(l.ctx)
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	ctx := l.ctx
	cb := l.onUtterance
	l.mu.Unlock()
	if cb != nil {
		cb(u)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.respond(ctx, u.Text)
		if resume {
			l.resume(ctx)
		}
	}()
}

func (l *Listener) resume(ctx context.Context) {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()
	if !active || ctx.Err() != nil {
		return
	}
	if err := l.startCapture(ctx); err != nil {
		l.logger.Error("listener: resume capture failed", "error", err)
		l.report(err)
	}
}

func (l *Listener) respond(ctx context.Context, text string) {
	tctx, cancel := Detach(ctx)
	defer cancel()

	result, err := l.orch.ProcessTurn(tctx, text)
	if err != nil {
		l.report(err)
		return
	}

	l.mu.Lock()
	cb := l.onReply
	l.mu.Unlock()
	if cb != nil {
		cb(result)
	}
}

func (l *Listener) transcribeBackup(ctx context.Context, wav []byte) {
	ctx, cancel := Detach(ctx)
	defer cancel()

	start := time.Now()
	text, err := l.backup.Transcribe(ctx, wav, audio.WAVContentType)
	l.metrics.ObserveSTT(ctx, start)
	if err != nil {
		switch {
		case errors.Is(err, transcribe.ErrNoSpeech):
			l.logger.Info("listener: backup transcription heard nothing")
		case errors.Is(err, transcribe.ErrTimeout):
			l.logger.Warn("listener: backup transcription timed out")
			l.metrics.RecordProviderError(ctx, "stt", "timeout")
		default:
			l.logger.Error("listener: backup transcription failed", "error", err)
			l.metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
		l.report(err)
		return
	}

	l.mu.Lock()
	cb := l.onUtterance
	l.mu.Unlock()
	if cb != nil {
		cb(session.Utterance{Text: text, Reason: session.CommitStop, At: time.Now().UTC()})
	}
	l.respond(ctx, text)
}

func (l *Listener) report(err error) {
	l.mu.Lock()
	cb := l.onError
	l.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
