package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/tish/internal/audio"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/transcribe"
)

type stubChannel struct{}

func (stubChannel) Write(p []byte) (int, error) { return len(p), nil }
func (stubChannel) Close() error                { return nil }

type stubRecognizer struct {
	mu    sync.Mutex
	sinks []session.Sink
}

func (r *stubRecognizer) Open(_ context.Context, sink session.Sink) (session.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
	return stubChannel{}, nil
}

func (r *stubRecognizer) opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

func (r *stubRecognizer) last() session.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[len(r.sinks)-1]
}

type stubTranscriber struct {
	mu          sync.Mutex
	text        string
	err         error
	audio       []byte
	contentType string
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = audio
	s.contentType = contentType
	return s.text, s.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type replyCollector struct {
	mu      sync.Mutex
	replies []*TurnResult
	errs    []error
}

func (c *replyCollector) reply(r *TurnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, r)
}

func (c *replyCollector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *replyCollector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies), len(c.errs)
}

func newTestListener(t *testing.T, debounce time.Duration, cfg ListenerConfig) (*Listener, *stubRecognizer, *fakeGenerator, *replyCollector) {
	t.Helper()
	rec := &stubRecognizer{}
	capture := session.NewCapture(rec, session.CaptureConfig{DebounceDelay: debounce, Logger: quietLogger()})
	gen := &fakeGenerator{reply: "That sounds meaningful."}
	cfg.Logger = quietLogger()
	l := NewListener(newTestOrchestrator(gen, nil), capture, cfg)

	collector := &replyCollector{}
	l.OnReply(collector.reply)
	l.OnError(collector.fail)
	t.Cleanup(func() {
		l.Stop()
		l.Wait()
	})
	return l, rec, gen, collector
}

func TestListenerSilenceCommitRunsTurn(t *testing.T) {
	l, rec, gen, collector := newTestListener(t, 20*time.Millisecond, ListenerConfig{})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.last().Result(session.Result{Finals: []string{"I had a great day at work today"}})

	waitFor(t, "reply", func() bool { n, _ := collector.counts(); return n == 1 })
	l.Wait()

	if got := collector.replies[0].UserText; got != "I had a great day at work today" {
		t.Fatalf("unexpected utterance %q", got)
	}
	if gen.callCount() != 1 {
		t.Fatalf("expected one generation, got %d", gen.callCount())
	}
	if state := l.Capture().State(); state != session.StateIdle {
		t.Fatalf("expected capture stopped after commit, got %s", state)
	}
}

func TestListenerContinuousResumes(t *testing.T) {
	l, rec, _, collector := newTestListener(t, 20*time.Millisecond, ListenerConfig{Continuous: true})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.last().Result(session.Result{Finals: []string{"Work was stressful again"}})

	waitFor(t, "reply", func() bool { n, _ := collector.counts(); return n == 1 })
	waitFor(t, "capture reopen", func() bool { return rec.opens() == 2 })
	waitFor(t, "listening", func() bool { return l.Capture().State() == session.StateListening })
}

func TestListenerStopFlushesTranscript(t *testing.T) {
	l, rec, _, collector := newTestListener(t, time.Second, ListenerConfig{})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.last().Result(session.Result{Finals: []string{"hi"}})
	l.Stop()
	l.Wait()

	n, _ := collector.counts()
	if n != 1 || collector.replies[0].UserText != "hi" {
		t.Fatalf("expected flushed short utterance, got %d replies", n)
	}
}

func TestListenerFlushSurvivesCancel(t *testing.T) {
	l, rec, gen, collector := newTestListener(t, time.Second, ListenerConfig{})
	gen.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.last().Result(session.Result{Finals: []string{"I keep thinking about my sister"}})

	// client goes away: stop flushes, then the caller's context ends
	l.Stop()
	cancel()
	l.Wait()

	n, _ := collector.counts()
	if n != 1 {
		t.Fatalf("expected flushed turn to complete, got %d replies", n)
	}
	if got := collector.replies[0].ReplyText; got != "That sounds meaningful." {
		t.Fatalf("expected generated reply, got %q", got)
	}
	history := l.orch.History()
	if len(history) != 1 || history[0].AIText != "That sounds meaningful." {
		t.Fatalf("expected generated reply in history, got %+v", history)
	}
}

func TestListenerBackupTranscription(t *testing.T) {
	backup := &stubTranscriber{text: "I feel anxious about work"}
	recorder := audio.NewRecorder(16000, 0)
	l, _, _, collector := newTestListener(t, time.Second, ListenerConfig{Recorder: recorder, Backup: backup})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := l.Write([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	l.Stop()
	l.Wait()

	n, _ := collector.counts()
	if n != 1 || collector.replies[0].UserText != "I feel anxious about work" {
		t.Fatalf("expected backup transcript turn, got %d replies", n)
	}
	if backup.contentType != audio.WAVContentType || len(backup.audio) != 44+4 {
		t.Fatalf("expected wav upload, got %q with %d bytes", backup.contentType, len(backup.audio))
	}
}

func TestListenerBackupNoSpeech(t *testing.T) {
	backup := &stubTranscriber{err: transcribe.ErrNoSpeech}
	recorder := audio.NewRecorder(16000, 0)
	l, _, gen, collector := newTestListener(t, time.Second, ListenerConfig{Recorder: recorder, Backup: backup})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, _ = l.Write([]byte{0, 0})
	l.Stop()
	l.Wait()

	n, e := collector.counts()
	if n != 0 || e != 1 || !errors.Is(collector.errs[0], transcribe.ErrNoSpeech) {
		t.Fatalf("expected a single ErrNoSpeech, got %d replies and %v", n, collector.errs)
	}
	if gen.callCount() != 0 {
		t.Fatal("expected no generation without a transcript")
	}
}

func TestListenerDropsAudioWhileIdle(t *testing.T) {
	l, _, _, _ := newTestListener(t, time.Second, ListenerConfig{})

	n, err := l.Write([]byte{1, 2, 3})
	if err != nil || n != 3 {
		t.Fatalf("expected audio dropped silently, got %d, %v", n, err)
	}
}
