package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI synthesizes speech with the OpenAI audio API. Tone maps to speaking
// speed since the endpoint has no style controls.
type OpenAI struct {
	client *openai.Client
	model  openai.SpeechModel
	voices VoiceSet
}

func NewOpenAI(apiKey, model string, voices VoiceSet, baseURL string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  openai.SpeechModel(model),
		voices: voices.withDefaults(OpenAIVoices),
	}
}

func (o *OpenAI) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          openai.SpeechVoice(o.voices.ID(req.Voice)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          SettingsFor(req.Tone).Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer func() { _ = resp.Close() }()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai returned no audio")
	}
	return audio, nil
}
