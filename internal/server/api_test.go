package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/tish/internal/llm"
	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/safety"
	"github.com/sjawhar/tish/internal/speech"
	"github.com/sjawhar/tish/internal/storage"
	"github.com/sjawhar/tish/internal/transcribe"
)

type stubGenerator struct {
	reply string
}

func (g stubGenerator) Complete(ctx context.Context, _ []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.reply, nil
}

type stubSynth struct {
	mu   sync.Mutex
	err  error
	last speech.Request
}

func (s *stubSynth) Synthesize(_ context.Context, req speech.Request) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3:" + req.Text), nil
}

type stubTranscriber struct {
	text        string
	err         error
	audio       []byte
	contentType string
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio []byte, contentType string) (string, error) {
	s.audio = audio
	s.contentType = contentType
	return s.text, s.err
}

type archiveStub struct {
	dates         []string
	conversations map[string][]storage.Conversation
	turns         map[string][]storage.TurnRecord
}

func (a archiveStub) GetDates(context.Context) ([]string, error) {
	return a.dates, nil
}

func (a archiveStub) GetConversationsByDate(_ context.Context, date string) ([]storage.Conversation, error) {
	return a.conversations[date], nil
}

func (a archiveStub) GetTurns(_ context.Context, id string) ([]storage.TurnRecord, error) {
	return a.turns[id], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrchestrator() *pipeline.Orchestrator {
	return pipeline.New(pipeline.Config{
		Classifier: safety.NewClassifier(safety.WithSeed(3), safety.WithLogger(quietLogger())),
		Generator:  stubGenerator{reply: "That sounds wonderful, tell me more."},
		Logger:     quietLogger(),
		Seed:       9,
	})
}

func testHandler(t *testing.T, hub *Hub, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := Options{Orchestrator: testOrchestrator(), Region: "US"}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := Handler(hub, opts)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return h
}

func do(h http.Handler, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func nextEvent(t *testing.T, ch chan []byte, eventType string) map[string]any {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-ch:
			var payload map[string]any
			if err := json.Unmarshal(msg, &payload); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if payload["type"] == eventType {
				return payload
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", eventType)
		}
	}
}

func TestHandlerRequiresOrchestrator(t *testing.T) {
	if _, err := Handler(NewHub(), Options{}); err == nil {
		t.Fatal("expected error without orchestrator")
	}
}

func TestAPITurn(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	h := testHandler(t, hub, nil)

	rr := do(h, http.MethodPost, "/api/turn", "application/json", strings.NewReader(`{"text":"I had a great day at work today"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}

	var body struct {
		ReplyText string `json:"reply_text"`
		IsCrisis  bool   `json:"is_crisis"`
		Severity  string `json:"severity"`
		Emotion   string `json:"emotion"`
	}
	decodeBody(t, rr, &body)
	if body.ReplyText != "That sounds wonderful, tell me more." || body.IsCrisis {
		t.Fatalf("unexpected turn response %+v", body)
	}
	if body.Emotion != string(speech.ToneExcited) {
		t.Fatalf("expected excited tone, got %q", body.Emotion)
	}

	event := nextEvent(t, ch, "turn_completed")
	if event["user_text"] != "I had a great day at work today" {
		t.Fatalf("unexpected turn_completed event %v", event)
	}
}

func TestAPITurnOutlivesClientDisconnect(t *testing.T) {
	orch := testOrchestrator()
	h := testHandler(t, NewHub(), func(o *Options) { o.Orchestrator = orch })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(`{"text":"I had a great day at work today"}`)).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	history := orch.History()
	if len(history) != 1 {
		t.Fatalf("expected one turn in history, got %d", len(history))
	}
	if history[0].AIText != "That sounds wonderful, tell me more." {
		t.Fatalf("expected generated reply in history, got %q", history[0].AIText)
	}
}

func TestAPITurnCrisis(t *testing.T) {
	h := testHandler(t, NewHub(), nil)

	rr := do(h, http.MethodPost, "/api/turn", "application/json", strings.NewReader(`{"text":"I want to kill myself"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		ReplyText string `json:"reply_text"`
		IsCrisis  bool   `json:"is_crisis"`
		Severity  string `json:"severity"`
	}
	decodeBody(t, rr, &body)
	if !body.IsCrisis || body.Severity != string(safety.SeverityHigh) {
		t.Fatalf("expected high-severity crisis, got %+v", body)
	}
	if body.ReplyText == "That sounds wonderful, tell me more." {
		t.Fatal("crisis turn must not use the generated reply")
	}
}

func TestAPITurnEmpty(t *testing.T) {
	h := testHandler(t, NewHub(), nil)

	rr := do(h, http.MethodPost, "/api/turn", "application/json", strings.NewReader(`{"text":"   "}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	rr = do(h, http.MethodPost, "/api/turn", "application/json", strings.NewReader(`not json`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad json, got %d", rr.Code)
	}
}

func TestAPITTS(t *testing.T) {
	synth := &stubSynth{}
	h := testHandler(t, NewHub(), func(o *Options) { o.Synthesizer = synth })

	rr := do(h, http.MethodPost, "/api/tts", "application/json",
		strings.NewReader(`{"text":"Hello there","voice":"male","emotional_context":"warm"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != speech.ContentType {
		t.Fatalf("expected %s, got %q", speech.ContentType, got)
	}
	if rr.Body.String() != "mp3:Hello there" {
		t.Fatalf("unexpected audio body %q", rr.Body.String())
	}
	if synth.last.Voice != speech.VoiceSecondary || synth.last.Tone != speech.ToneWarm {
		t.Fatalf("unexpected synthesis request %+v", synth.last)
	}
}

func TestAPITTSUnknownVoiceFallsBack(t *testing.T) {
	synth := &stubSynth{}
	h := testHandler(t, NewHub(), func(o *Options) { o.Synthesizer = synth })

	rr := do(h, http.MethodPost, "/api/tts", "application/json", strings.NewReader(`{"text":"Hi","voice":"robot"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if synth.last.Voice != speech.VoicePrimary || synth.last.Tone != speech.ToneSupportive {
		t.Fatalf("expected primary voice and supportive tone, got %+v", synth.last)
	}
}

func TestAPITTSErrors(t *testing.T) {
	tests := []struct {
		name   string
		synth  speech.Synthesizer
		body   string
		status int
	}{
		{"not configured", nil, `{"text":"Hi"}`, http.StatusServiceUnavailable},
		{"empty text", &stubSynth{}, `{"text":"  "}`, http.StatusBadRequest},
		{"unknown tone", &stubSynth{}, `{"text":"Hi","emotional_context":"furious"}`, http.StatusBadRequest},
		{"engine failure", &stubSynth{err: errors.New("quota exceeded")}, `{"text":"Hi"}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHandler(t, NewHub(), func(o *Options) { o.Synthesizer = tt.synth })
			rr := do(h, http.MethodPost, "/api/tts", "application/json", strings.NewReader(tt.body))
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPISTTRawBody(t *testing.T) {
	stt := &stubTranscriber{text: "I feel calmer now"}
	h := testHandler(t, NewHub(), func(o *Options) { o.Transcriber = stt })

	rr := do(h, http.MethodPost, "/api/stt", "audio/webm", bytes.NewReader([]byte("webm-bytes")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body sttResponse
	decodeBody(t, rr, &body)
	if body.Transcript != "I feel calmer now" || body.NoSpeech {
		t.Fatalf("unexpected stt response %+v", body)
	}
	if stt.contentType != "audio/webm" || string(stt.audio) != "webm-bytes" {
		t.Fatalf("unexpected upload %q %q", stt.contentType, stt.audio)
	}
}

func TestAPISTTMultipart(t *testing.T) {
	stt := &stubTranscriber{text: "hello"}
	h := testHandler(t, NewHub(), func(o *Options) { o.Transcriber = stt })

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("RIFF-data"))
	_ = mw.Close()

	rr := do(h, http.MethodPost, "/api/stt", mw.FormDataContentType(), &buf)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(stt.audio) != "RIFF-data" {
		t.Fatalf("expected multipart audio forwarded, got %q", stt.audio)
	}
}

func TestAPISTTOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		stt    transcribe.Transcriber
		body   []byte
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name: "not configured", stt: nil, body: []byte("x"), status: http.StatusServiceUnavailable,
		},
		{
			name: "empty body", stt: &stubTranscriber{}, body: nil, status: http.StatusBadRequest,
		},
		{
			name: "no speech", stt: &stubTranscriber{err: transcribe.ErrNoSpeech}, body: []byte("x"), status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["no_speech"] != true {
					t.Fatalf("expected no_speech, got %v", body)
				}
			},
		},
		{
			name: "timeout", stt: &stubTranscriber{err: transcribe.ErrTimeout}, body: []byte("x"), status: http.StatusGatewayTimeout,
			check: func(t *testing.T, body map[string]any) {
				if body["retry"] != true {
					t.Fatalf("expected retry hint, got %v", body)
				}
			},
		},
		{
			name: "engine failure", stt: &stubTranscriber{err: errors.New("bad gateway")}, body: []byte("x"), status: http.StatusBadGateway,
		},
		{
			name: "too large", stt: &stubTranscriber{}, body: make([]byte, transcribe.MaxAudioBytes+1), status: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHandler(t, NewHub(), func(o *Options) { o.Transcriber = tt.stt })
			rr := do(h, http.MethodPost, "/api/stt", "audio/wav", bytes.NewReader(tt.body))
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.check != nil {
				var body map[string]any
				decodeBody(t, rr, &body)
				tt.check(t, body)
			}
		})
	}
}

func TestAPIHistoryAndReset(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	h := testHandler(t, hub, nil)

	do(h, http.MethodPost, "/api/turn", "application/json", strings.NewReader(`{"text":"Work has been a lot lately"}`))

	var history struct {
		ConversationID string `json:"conversation_id"`
		Capacity       int    `json:"capacity"`
		Turns          []struct {
			UserText string `json:"user_text"`
		} `json:"turns"`
	}
	decodeBody(t, do(h, http.MethodGet, "/api/history", "", nil), &history)
	if len(history.Turns) != 1 || history.Turns[0].UserText != "Work has been a lot lately" {
		t.Fatalf("expected one turn in history, got %+v", history)
	}
	if history.Capacity != 10 {
		t.Fatalf("expected default capacity 10, got %d", history.Capacity)
	}

	rr := do(h, http.MethodPost, "/api/history/reset", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var reset map[string]string
	decodeBody(t, rr, &reset)
	if reset["conversation_id"] == "" || reset["conversation_id"] == history.ConversationID {
		t.Fatalf("expected a new conversation id, got %v", reset)
	}

	event := nextEvent(t, ch, "history_reset")
	if event["conversation_id"] != reset["conversation_id"] {
		t.Fatalf("unexpected history_reset event %v", event)
	}

	decodeBody(t, do(h, http.MethodGet, "/api/history", "", nil), &history)
	if len(history.Turns) != 0 {
		t.Fatalf("expected empty history after reset, got %d turns", len(history.Turns))
	}
}

func TestAPIResources(t *testing.T) {
	h := testHandler(t, NewHub(), nil)

	var res safety.Resources
	decodeBody(t, do(h, http.MethodGet, "/api/resources?region=uk", "", nil), &res)
	if res.Region != "UK" || res.Emergency != "999" {
		t.Fatalf("expected UK resources, got %+v", res)
	}

	decodeBody(t, do(h, http.MethodGet, "/api/resources", "", nil), &res)
	if res.Region != "US" {
		t.Fatalf("expected configured region, got %+v", res)
	}
}

func TestAPIWelcome(t *testing.T) {
	h := testHandler(t, NewHub(), nil)

	var body map[string]string
	decodeBody(t, do(h, http.MethodGet, "/api/welcome", "", nil), &body)
	if !strings.HasPrefix(body["message"], "H") && !strings.HasPrefix(body["message"], "W") {
		t.Fatalf("unexpected welcome message %q", body["message"])
	}
}

func TestAPIStatusWarnings(t *testing.T) {
	h := testHandler(t, NewHub(), func(o *Options) {
		o.Warnings = func() []string { return []string{"elevenlabs API key not configured"} }
	})

	var body struct {
		Warnings []string `json:"warnings"`
		Speech   bool     `json:"speech"`
	}
	decodeBody(t, do(h, http.MethodGet, "/api/status", "", nil), &body)
	if len(body.Warnings) != 1 || body.Speech {
		t.Fatalf("unexpected status %+v", body)
	}
}

func TestAPIArchive(t *testing.T) {
	started := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	archive := archiveStub{
		dates: []string{"2026-02-26"},
		conversations: map[string][]storage.Conversation{
			"2026-02-26": {{ID: "c1", StartedAt: started, Status: storage.ConversationActive, TurnCount: 1}},
		},
		turns: map[string][]storage.TurnRecord{
			"c1": {{Timestamp: started, UserText: "hi", ReplyText: "hello", Severity: "none"}},
		},
	}
	h := testHandler(t, NewHub(), func(o *Options) { o.Archive = archive })

	var dates []string
	decodeBody(t, do(h, http.MethodGet, "/api/archive/dates", "", nil), &dates)
	if len(dates) != 1 || dates[0] != "2026-02-26" {
		t.Fatalf("unexpected dates %v", dates)
	}

	rr := do(h, http.MethodGet, "/api/archive?date=2026-02-26", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var conversations []struct {
		ID    string               `json:"id"`
		Turns []storage.TurnRecord `json:"turns"`
	}
	decodeBody(t, rr, &conversations)
	if len(conversations) != 1 || conversations[0].ID != "c1" || len(conversations[0].Turns) != 1 {
		t.Fatalf("unexpected archive %+v", conversations)
	}

	if rr := do(h, http.MethodGet, "/api/archive?date=yesterday", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad date, got %d", rr.Code)
	}
}

func TestAPIArchiveNotConfigured(t *testing.T) {
	h := testHandler(t, NewHub(), nil)
	if rr := do(h, http.MethodGet, "/api/archive/dates", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := testHandler(t, NewHub(), func(o *Options) {
		o.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "tish_turns_total 1\n")
		})
	})

	rr := do(h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "tish_turns_total") {
		t.Fatalf("expected metrics body, got %d %q", rr.Code, rr.Body.String())
	}
}
