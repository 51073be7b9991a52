// Package memory holds the bounded conversation history and turns it into a
// prompt-ready context.
package memory

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of turns retained when no capacity is given.
const DefaultCapacity = 10

// ErrEmptyReply is returned by NewTurn when the reply text is blank.
var ErrEmptyReply = errors.New("turn reply text is empty")

// Turn is one user utterance paired with the reply. Turns are values and are
// never mutated after creation.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	UserText  string    `json:"user_text"`
	AIText    string    `json:"ai_text"`
	IsCrisis  bool      `json:"is_crisis"`
}

func NewTurn(at time.Time, userText, aiText string, isCrisis bool) (Turn, error) {
	if strings.TrimSpace(aiText) == "" {
		return Turn{}, ErrEmptyReply
	}
	return Turn{Timestamp: at.UTC(), UserText: userText, AIText: aiText, IsCrisis: isCrisis}, nil
}

// History is a fixed-capacity FIFO of turns, oldest first. Readers always get
// a copy.
type History struct {
	mu       sync.RWMutex
	buf      []Turn
	start    int
	size     int
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]Turn, capacity), capacity: capacity}
}

// Append adds t as the newest turn, evicting the oldest once full.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.buf[(h.start+h.size)%h.capacity] = t
		h.size++
		return
	}
	h.buf[h.start] = t
	h.start = (h.start + 1) % h.capacity
}

// Snapshot returns the retained turns in insertion order.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, h.size)
	for i := range h.size {
		out[i] = h.buf[(h.start+i)%h.capacity]
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History) Cap() int {
	return h.capacity
}

// Reset drops every turn. Calling it on an empty history is a no-op.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.start = 0
	h.size = 0
}
