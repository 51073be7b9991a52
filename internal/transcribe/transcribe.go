// Package transcribe converts a recorded utterance into text.
package transcribe

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSpeech means the engine finished but heard nothing. It is distinct
	// from an empty transcript string so callers can prompt the user again.
	ErrNoSpeech = errors.New("transcribe: no speech detected")
	// ErrTimeout means the engine did not finish within the polling budget.
	ErrTimeout = errors.New("transcribe: timed out waiting for transcript")
)

// MaxAudioBytes bounds a single upload.
const MaxAudioBytes = 10 << 20

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// DefaultPollDelays is the progressive backoff between status checks. The
// last entry repeats once the schedule is exhausted.
var DefaultPollDelays = []time.Duration{
	300 * time.Millisecond,
	500 * time.Millisecond,
	700 * time.Millisecond,
	time.Second,
	1200 * time.Millisecond,
}

const DefaultMaxAttempts = 15

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
