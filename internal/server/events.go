package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type TranscriptEvent struct {
	Event
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

type UtteranceEvent struct {
	Event
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

type TurnCompletedEvent struct {
	Event
	ConversationID string `json:"conversation_id"`
	UserText       string `json:"user_text"`
	ReplyText      string `json:"reply_text"`
	IsCrisis       bool   `json:"is_crisis"`
	Severity       string `json:"severity"`
	Emotion        string `json:"emotion,omitempty"`
}

type HistoryResetEvent struct {
	Event
	ConversationID string `json:"conversation_id"`
}

type StatusEvent struct {
	Event
	Listening bool   `json:"listening"`
	State     string `json:"state"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
