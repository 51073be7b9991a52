package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/session"
)

// Hub fans JSON events out to every /ws subscriber. Slow subscribers miss
// events rather than block the pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastTranscript(ts session.TranscriptState) {
	h.broadcastEvent(transcriptEvent(ts))
}

func (h *Hub) BroadcastUtterance(u session.Utterance) {
	h.broadcastEvent(UtteranceEvent{
		Event:  newEvent("utterance", u.At),
		Text:   u.Text,
		Reason: string(u.Reason),
	})
}

func (h *Hub) BroadcastTurnCompleted(r pipeline.TurnResult) {
	h.broadcastEvent(TurnCompletedEvent{
		Event:          newEvent("turn_completed", r.Timestamp),
		ConversationID: r.ConversationID,
		UserText:       r.UserText,
		ReplyText:      r.ReplyText,
		IsCrisis:       r.IsCrisis,
		Severity:       string(r.Severity),
		Emotion:        string(r.Emotion),
	})
}

func (h *Hub) BroadcastHistoryReset(conversationID string) {
	h.broadcastEvent(HistoryResetEvent{
		Event:          newEvent("history_reset", time.Now().UTC()),
		ConversationID: conversationID,
	})
}

func (h *Hub) BroadcastStatus(state session.State) {
	h.broadcastEvent(StatusEvent{
		Event:     newEvent("status", time.Now().UTC()),
		Listening: state == session.StateListening,
		State:     state.String(),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
