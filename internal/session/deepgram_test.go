package session

import (
	"encoding/json"
	"errors"
	"testing"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

type sinkMock struct {
	results []Result
	errs    []error
	ended   int
}

func (s *sinkMock) Result(r Result) { s.results = append(s.results, r) }
func (s *sinkMock) Error(err error) { s.errs = append(s.errs, err) }
func (s *sinkMock) Ended()          { s.ended++ }

func decodeMessage(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal deepgram message failed: %v", err)
	}
	return &msg
}

func TestDeepgramCallbackMapsInterimAndFinal(t *testing.T) {
	sink := &sinkMock{}
	cb := deepgramCallback{sink: sink}

	interim := decodeMessage(t, `{"is_final": false, "channel": {"alternatives": [{"transcript": "i had a "}]}}`)
	final := decodeMessage(t, `{"is_final": true, "channel": {"alternatives": [{"transcript": " I had a great day. "}]}}`)

	if err := cb.Message(interim); err != nil {
		t.Fatalf("interim: %v", err)
	}
	if err := cb.Message(final); err != nil {
		t.Fatalf("final: %v", err)
	}

	if len(sink.results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(sink.results))
	}
	if sink.results[0].Interim != "i had a" || len(sink.results[0].Finals) != 0 {
		t.Fatalf("unexpected interim result %#v", sink.results[0])
	}
	if len(sink.results[1].Finals) != 1 || sink.results[1].Finals[0] != "I had a great day." {
		t.Fatalf("unexpected final result %#v", sink.results[1])
	}
	if sink.results[1].Interim != "" {
		t.Fatalf("expected final result to clear interim, got %q", sink.results[1].Interim)
	}
}

func TestDeepgramCallbackSkipsEmptyFinals(t *testing.T) {
	sink := &sinkMock{}
	cb := deepgramCallback{sink: sink}

	_ = cb.Message(decodeMessage(t, `{"is_final": true, "channel": {"alternatives": [{"transcript": "  "}]}}`))
	_ = cb.Message(decodeMessage(t, `{"is_final": true, "channel": {"alternatives": []}}`))

	if len(sink.results) != 0 {
		t.Fatalf("expected no results, got %#v", sink.results)
	}
}

func TestDeepgramCallbackMapsErrorsAndClose(t *testing.T) {
	sink := &sinkMock{}
	cb := deepgramCallback{sink: sink}

	_ = cb.Error(&api.ErrorResponse{ErrCode: noSpeechCode, Description: "timeout"})
	_ = cb.Error(&api.ErrorResponse{ErrCode: "NET-0002", Description: "socket failure"})
	_ = cb.Close(&api.CloseResponse{})

	if len(sink.errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(sink.errs))
	}
	if !errors.Is(sink.errs[0], ErrNoSpeech) {
		t.Fatalf("expected no-speech mapping, got %v", sink.errs[0])
	}
	if errors.Is(sink.errs[1], ErrNoSpeech) {
		t.Fatalf("expected generic error, got %v", sink.errs[1])
	}
	if sink.ended != 1 {
		t.Fatalf("expected ended once, got %d", sink.ended)
	}
}

type connMock struct {
	written int
	stopped bool
}

func (c *connMock) Write(p []byte) (int, error) {
	c.written += len(p)
	return len(p), nil
}

func (c *connMock) Stop() { c.stopped = true }

func TestDeepgramChannelDelegates(t *testing.T) {
	conn := &connMock{}
	ch := &deepgramChannel{conn: conn}

	if _, err := ch.Write(make([]byte, 320)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if conn.written != 320 || !conn.stopped {
		t.Fatalf("unexpected conn state %#v", conn)
	}
}
