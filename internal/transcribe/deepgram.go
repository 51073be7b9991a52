package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	restapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Deepgram transcribes a recorded clip with Deepgram's pre-recorded API.
type Deepgram struct {
	apiKey   string
	model    string
	language string
}

func NewDeepgram(apiKey, model, language string) *Deepgram {
	if model == "" {
		model = "nova-2"
	}
	if language == "" {
		language = "en-US"
	}
	return &Deepgram{apiKey: strings.TrimSpace(apiKey), model: model, language: language}
}

func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}

	dg := restapi.New(client.NewREST(d.apiKey, &interfaces.ClientOptions{}))
	res, err := dg.FromStream(ctx, bytes.NewReader(audio), &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    d.language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("deepgram transcription: %w", ErrTimeout)
		}
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", ErrNoSpeech
	}

	text := strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
