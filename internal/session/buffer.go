package session

import (
	"strings"
	"time"
)

// Result is one incremental recognition event: zero or more finalized
// segments and the engine's current guess for the in-progress segment.
type Result struct {
	Finals  []string
	Interim string
}

// TranscriptState is a point-in-time copy of the live transcript.
type TranscriptState struct {
	Final      string    `json:"final"`
	Interim    string    `json:"interim"`
	LastSpeech time.Time `json:"last_speech"`
}

// TranscriptBuffer accumulates finalized text and tracks the latest interim
// guess. It is owned by a single Capture and is not safe for concurrent use.
type TranscriptBuffer struct {
	final      strings.Builder
	interim    string
	lastSpeech time.Time
}

func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{}
}

// Apply appends finalized segments and replaces the interim guess wholesale.
func (b *TranscriptBuffer) Apply(r Result, now time.Time) {
	for _, seg := range r.Finals {
		b.final.WriteString(seg)
		b.final.WriteString(" ")
	}
	b.interim = r.Interim
	b.lastSpeech = now
}

// Final returns the trimmed finalized text.
func (b *TranscriptBuffer) Final() string {
	return strings.TrimSpace(b.final.String())
}

func (b *TranscriptBuffer) State() TranscriptState {
	return TranscriptState{
		Final:      b.final.String(),
		Interim:    b.interim,
		LastSpeech: b.lastSpeech,
	}
}

func (b *TranscriptBuffer) Reset() {
	b.final.Reset()
	b.interim = ""
	b.lastSpeech = time.Time{}
}
