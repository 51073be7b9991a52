package speech

import (
	"fmt"
	"strings"
)

// Tone is a coarse delivery hint derived from reply text.
type Tone string

const (
	ToneSupportive  Tone = "supportive"
	ToneExcited     Tone = "excited"
	ToneEmpathetic  Tone = "empathetic"
	ToneWarm        Tone = "warm"
	ToneEncouraging Tone = "encouraging"
)

// toneTriggers is checked in order; the first tone with a matching phrase wins.
var toneTriggers = []struct {
	tone    Tone
	phrases []string
}{
	{ToneExcited, []string{"amazing", "awesome", "excited", "fantastic", "great", "wonderful"}},
	{ToneEmpathetic, []string{"tough", "difficult", "hard", "struggle", "challenging"}},
	{ToneWarm, []string{"understand", "hear you", "feel you", "get that", "makes sense"}},
	{ToneEncouraging, []string{"strength", "courage", "proud", "brave", "resilient"}},
}

// DetectTone picks a tone from lexical triggers in text. Text with no
// trigger is supportive.
func DetectTone(text string) Tone {
	lower := strings.ToLower(text)
	for _, t := range toneTriggers {
		for _, phrase := range t.phrases {
			if strings.Contains(lower, phrase) {
				return t.tone
			}
		}
	}
	return ToneSupportive
}

// ParseTone validates an emotional context name. Empty means supportive.
func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return ToneSupportive, nil
	case ToneSupportive, ToneExcited, ToneEmpathetic, ToneWarm, ToneEncouraging:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTone, s)
	}
}

// VoiceSettings are per-request delivery parameters.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	// Speed is used by providers without style controls.
	Speed float64 `json:"-"`
}

var baseSettings = VoiceSettings{
	Stability:       0.5,
	SimilarityBoost: 0.75,
	Style:           0.6,
	UseSpeakerBoost: true,
	Speed:           1.0,
}

// SettingsFor returns the delivery parameters for t.
func SettingsFor(t Tone) VoiceSettings {
	s := baseSettings
	switch t {
	case ToneExcited:
		s.Stability, s.Style, s.Speed = 0.3, 0.8, 1.1
	case ToneEmpathetic:
		s.Stability, s.Style, s.Speed = 0.6, 0.4, 0.9
	case ToneWarm:
		s.Stability, s.Style, s.Speed = 0.65, 0.5, 0.95
	case ToneEncouraging:
		s.Speed = 1.05
	}
	return s
}
