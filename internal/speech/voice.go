// Package speech turns reply text into audio.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ContentType is the media type of every synthesized clip.
const ContentType = "audio/mpeg"

var (
	ErrEmptyText    = errors.New("speech: text is empty")
	ErrUnknownVoice = errors.New("speech: unknown voice")
	ErrUnknownTone  = errors.New("speech: unknown emotional context")
)

type Voice string

const (
	VoicePrimary   Voice = "primary"
	VoiceSecondary Voice = "secondary"
)

// ParseVoice accepts the two logical voices plus the female/male aliases
// older clients send. An empty string selects the primary voice.
func ParseVoice(s string) (Voice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary", "female":
		return VoicePrimary, nil
	case "secondary", "male":
		return VoiceSecondary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVoice, s)
	}
}

// VoiceSet maps logical voices to provider voice IDs.
type VoiceSet struct {
	Primary   string `yaml:"primary" json:"primary"`
	Secondary string `yaml:"secondary" json:"secondary"`
}

var (
	// Bella and Adam.
	ElevenLabsVoices = VoiceSet{Primary: "EXAVITQu4vr4xnSDxMaL", Secondary: "pNInz6obpgDQGcFmaJgB"}
	OpenAIVoices     = VoiceSet{Primary: "nova", Secondary: "onyx"}
)

// ID returns the provider voice for v, falling back to the primary voice.
func (s VoiceSet) ID(v Voice) string {
	if v == VoiceSecondary && s.Secondary != "" {
		return s.Secondary
	}
	return s.Primary
}

// withDefaults fills blank entries from def.
func (s VoiceSet) withDefaults(def VoiceSet) VoiceSet {
	if s.Primary == "" {
		s.Primary = def.Primary
	}
	if s.Secondary == "" {
		s.Secondary = def.Secondary
	}
	return s
}

// Request is one synthesis job.
type Request struct {
	Text  string
	Voice Voice
	Tone  Tone
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
