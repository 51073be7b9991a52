package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/tish/internal/audio"
	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/transcribe"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}

// ReplyMessage is written to a /ws/listen client after each turn. The reply
// audio, when there is any, follows as a binary frame.
type ReplyMessage struct {
	Event
	Turn pipeline.TurnResult `json:"turn"`
}

type ErrorMessage struct {
	Event
	Error    string `json:"error"`
	NoSpeech bool   `json:"no_speech,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	_ = c.write(websocket.TextMessage, payload)
}

func (c *wsConn) writeError(err error) {
	c.writeJSON(ErrorMessage{
		Event:    newEvent("error", time.Now().UTC()),
		Error:    err.Error(),
		NoSpeech: errors.Is(err, transcribe.ErrNoSpeech),
	})
}

// registerListenRoute serves live capture. Binary frames carry 16-bit mono
// PCM at opts.SampleRate; text frames carry "start" or "stop", bare or as
// {"type": "..."}.
func registerListenRoute(mux *http.ServeMux, hub *Hub, opts Options) {
	mux.HandleFunc("GET /ws/listen", func(w http.ResponseWriter, r *http.Request) {
		if opts.NewCapture == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "live capture is not configured")
			return
		}

		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		conn := &wsConn{conn: raw}
		defer func() { _ = raw.Close() }()

		ctx, cancel := context.WithCancel(r.Context())

		capture := opts.NewCapture()
		capture.OnTranscript(func(ts session.TranscriptState) {
			hub.BroadcastTranscript(ts)
			conn.writeJSON(transcriptEvent(ts))
		})
		capture.OnStateChange(hub.BroadcastStatus)

		cfg := pipeline.ListenerConfig{Continuous: true, Metrics: opts.Metrics}
		if opts.Transcriber != nil {
			cfg.Recorder = audio.NewRecorder(opts.SampleRate, audio.DefaultMaxBytes)
			cfg.Backup = opts.Transcriber
		}
		listener := pipeline.NewListener(opts.Orchestrator, capture, cfg)
		listener.OnUtterance(hub.BroadcastUtterance)
		listener.OnError(conn.writeError)
		listener.OnReply(func(res *pipeline.TurnResult) {
			conn.writeJSON(ReplyMessage{Event: newEvent("reply", res.Timestamp), Turn: *res})
			clip, err := res.Audio(ctx)
			if err != nil || len(clip) == 0 {
				return
			}
			_ = conn.write(websocket.BinaryMessage, clip)
		})

		defer func() {
			listener.Stop()
			cancel()
			listener.Wait()
		}()

		for {
			messageType, data, err := raw.ReadMessage()
			if err != nil {
				return
			}

			switch messageType {
			case websocket.BinaryMessage:
				if _, err := listener.Write(data); err != nil {
					conn.writeError(err)
				}
			case websocket.TextMessage:
				switch controlCommand(data) {
				case "start":
					if err := listener.Start(ctx); err != nil {
						conn.writeError(err)
					}
				case "stop":
					listener.Stop()
				default:
					conn.writeError(errors.New("unknown control message"))
				}
			}
		}
	})
}

func controlCommand(data []byte) string {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return ""
		}
		text = msg.Type
	}
	return strings.ToLower(text)
}

func transcriptEvent(ts session.TranscriptState) TranscriptEvent {
	return TranscriptEvent{
		Event:   newEvent("transcript", time.Now().UTC()),
		Final:   ts.Final,
		Interim: ts.Interim,
	}
}
