package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSilenceDetectorFiresAfterQuietPeriod(t *testing.T) {
	detector := NewSilenceDetector(30 * time.Millisecond)

	done := make(chan struct{}, 1)
	detector.OnSilence(func() {
		done <- struct{}{}
	})

	detector.Touch()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected silence callback to fire")
	}
	if detector.Pending() {
		t.Fatal("expected no pending timer after firing")
	}
}

func TestSilenceDetectorTouchRestartsTimer(t *testing.T) {
	detector := NewSilenceDetector(80 * time.Millisecond)

	var fired atomic.Int32
	detector.OnSilence(func() {
		fired.Add(1)
	})

	for range 6 {
		detector.Touch()
		time.Sleep(20 * time.Millisecond)
	}
	if fired.Load() != 0 {
		t.Fatalf("expected no callback while activity continues, got %d", fired.Load())
	}

	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one callback after activity stops, got %d", fired.Load())
	}
}

func TestSilenceDetectorCancel(t *testing.T) {
	detector := NewSilenceDetector(40 * time.Millisecond)

	var fired atomic.Int32
	detector.OnSilence(func() {
		fired.Add(1)
	})

	detector.Touch()
	if !detector.Pending() {
		t.Fatal("expected pending timer after Touch")
	}
	detector.Cancel()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %d", fired.Load())
	}
}

func TestSilenceDetectorDefaultsDelay(t *testing.T) {
	if d := NewSilenceDetector(0); d.delay != DefaultDebounceDelay {
		t.Fatalf("expected default delay %s, got %s", DefaultDebounceDelay, d.delay)
	}
}
