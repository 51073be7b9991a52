package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	elevenLabsDefaultBaseURL = "https://api.elevenlabs.io/v1"
	elevenLabsDefaultModel   = "eleven_multilingual_v2"
)

type ElevenLabsOption func(*ElevenLabs)

func WithElevenLabsBaseURL(base string) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			e.baseURL = base
		}
	}
}

func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if model != "" {
			e.model = model
		}
	}
}

func WithElevenLabsHTTPClient(client *http.Client) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithMarkup enables Annotate on outgoing text.
func WithMarkup(enabled bool) ElevenLabsOption {
	return func(e *ElevenLabs) {
		e.markup = enabled
	}
}

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech REST
// endpoint.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	model      string
	voices     VoiceSet
	markup     bool
	httpClient *http.Client
}

func NewElevenLabs(apiKey string, voices VoiceSet, opts ...ElevenLabsOption) *ElevenLabs {
	e := &ElevenLabs{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    elevenLabsDefaultBaseURL,
		model:      elevenLabsDefaultModel,
		voices:     voices.withDefaults(ElevenLabsVoices),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if e.markup {
		text = Annotate(text)
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.model,
		VoiceSettings: SettingsFor(req.Tone),
	})
	if err != nil {
		return nil, fmt.Errorf("encode elevenlabs request: %w", err)
	}

	endpoint := e.baseURL + "/text-to-speech/" + url.PathEscape(e.voices.ID(req.Voice))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build elevenlabs request: %w", err)
	}
	httpReq.Header.Set("Accept", ContentType)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned no audio")
	}
	return audio, nil
}
