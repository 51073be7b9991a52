package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const assemblyAIDefaultBaseURL = "https://api.assemblyai.com/v2"

type PollerOption func(*Poller)

func WithBaseURL(base string) PollerOption {
	return func(p *Poller) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			p.baseURL = base
		}
	}
}

func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithSchedule overrides the backoff delays and the attempt budget.
func WithSchedule(delays []time.Duration, maxAttempts int) PollerOption {
	return func(p *Poller) {
		if len(delays) > 0 {
			p.delays = append([]time.Duration(nil), delays...)
		}
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
	}
}

// Poller transcribes audio with an upload, submit, poll cycle against an
// AssemblyAI-compatible API.
type Poller struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	delays      []time.Duration
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

func NewPoller(apiKey string, opts ...PollerOption) *Poller {
	p := &Poller{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     assemblyAIDefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		delays:      DefaultPollDelays,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	if p.apiKey == "" {
		return "", fmt.Errorf("assemblyai api key is required")
	}

	uploadURL, err := p.upload(ctx, audio)
	if err != nil {
		return "", err
	}
	id, err := p.submit(ctx, uploadURL)
	if err != nil {
		return "", err
	}
	return p.poll(ctx, id)
}

func (p *Poller) upload(ctx context.Context, audio []byte) (string, error) {
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := p.do(ctx, http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(audio), &out); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("upload audio: empty upload url")
	}
	return out.UploadURL, nil
}

func (p *Poller) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"audio_url":          audioURL,
		"language_detection": true,
		"punctuate":          true,
		"format_text":        true,
	})
	if err != nil {
		return "", fmt.Errorf("encode transcript request: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/transcript", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("submit transcription: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit transcription: empty transcript id")
	}
	return out.ID, nil
}

type transcriptStatus struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (p *Poller) poll(ctx context.Context, id string) (string, error) {
	path := "/transcript/" + url.PathEscape(id)

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		var st transcriptStatus
		if err := p.do(ctx, http.MethodGet, path, "", nil, &st); err != nil {
			return "", fmt.Errorf("poll transcription: %w", err)
		}

		switch st.Status {
		case "completed":
			text := strings.TrimSpace(st.Text)
			if text == "" {
				return "", ErrNoSpeech
			}
			return text, nil
		case "error":
			return "", fmt.Errorf("transcription failed: %s", st.Error)
		}

		delay := p.delays[min(attempt, len(p.delays)-1)]
		if err := p.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", ErrTimeout
}

func (p *Poller) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
