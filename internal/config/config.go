package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all tish environment variables.
const EnvPrefix = "TISH_"

const (
	TTSElevenLabs = "elevenlabs"
	TTSOpenAI     = "openai"

	STTDeepgram   = "deepgram"
	STTAssemblyAI = "assemblyai"
)

type Voices struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBPath        string `yaml:"db_path"`
	TranscriptDir string `yaml:"transcript_dir"`
	HistorySize   int    `yaml:"history_size"`

	DebounceDelay     string `yaml:"debounce_delay"`
	MinUtteranceChars int    `yaml:"min_utterance_chars"`
	RestartDelay      string `yaml:"restart_delay"`

	LLMModel       string  `yaml:"llm_model"`
	LLMMaxTokens   int     `yaml:"llm_max_tokens"`
	LLMTemperature float64 `yaml:"llm_temperature"`

	TTSProvider      string `yaml:"tts_provider"`
	TTSModel         string `yaml:"tts_model"`
	Voices           Voices `yaml:"voices"`
	ExpressiveMarkup bool   `yaml:"expressive_markup"`

	STTProvider     string   `yaml:"stt_provider"`
	STTModel        string   `yaml:"stt_model"`
	STTLanguage     string   `yaml:"stt_language"`
	PollDelays      []string `yaml:"poll_delays"`
	PollMaxAttempts int      `yaml:"poll_max_attempts"`

	Region         string `yaml:"region"`
	MicSampleRate  int    `yaml:"mic_sample_rate"`
	MicSampleRates []int  `yaml:"mic_sample_rates"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	MetricsEnabled        bool   `yaml:"metrics_enabled"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey   string `yaml:"-"`
	AssemblyAIAPIKey string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
	ElevenLabsAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/tish.db",
		TranscriptDir:         "data/transcripts",
		HistorySize:           10,
		DebounceDelay:         "800ms",
		MinUtteranceChars:     10,
		RestartDelay:          "1s",
		LLMModel:              "gemini/gemini-1.5-flash",
		LLMMaxTokens:          80,
		LLMTemperature:        0.9,
		TTSProvider:           TTSElevenLabs,
		STTProvider:           STTDeepgram,
		STTModel:              "nova-2",
		STTLanguage:           "en-US",
		PollDelays:            []string{"300ms", "500ms", "700ms", "1s", "1.2s"},
		PollMaxAttempts:       15,
		Region:                "US",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		GoogleCredentialsFile: "./service-account.json",
		MetricsEnabled:        true,
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedDebounceDelay returns DebounceDelay, falling back to 800ms.
func (c *Config) ParsedDebounceDelay() time.Duration {
	return parseDuration(c.DebounceDelay, 800*time.Millisecond)
}

// ParsedRestartDelay returns RestartDelay, falling back to 1s.
func (c *Config) ParsedRestartDelay() time.Duration {
	return parseDuration(c.RestartDelay, time.Second)
}

// ParsedPollDelays returns the transcription backoff schedule. Invalid
// entries are skipped; an empty result means the built-in schedule.
func (c *Config) ParsedPollDelays() []time.Duration {
	out := make([]time.Duration, 0, len(c.PollDelays))
	for _, raw := range c.PollDelays {
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && d > 0 {
			out = append(out, d)
		}
	}
	return out
}

// APIKeyFor returns the secret for an LLM, TTS or STT provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case TTSElevenLabs:
		return c.ElevenLabsAPIKey
	case STTDeepgram:
		return c.DeepgramAPIKey
	case STTAssemblyAI:
		return c.AssemblyAIAPIKey
	default:
		return ""
	}
}

// LLMProvider returns the provider half of LLMModel ("openai/gpt-4o" -> "openai").
func (c *Config) LLMProvider() string {
	provider, _, ok := strings.Cut(c.LLMModel, "/")
	if !ok {
		return ""
	}
	return provider
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"TRANSCRIPT_DIR":          &cfg.TranscriptDir,
		"DEBOUNCE_DELAY":          &cfg.DebounceDelay,
		"RESTART_DELAY":           &cfg.RestartDelay,
		"LLM_MODEL":               &cfg.LLMModel,
		"TTS_PROVIDER":            &cfg.TTSProvider,
		"TTS_MODEL":               &cfg.TTSModel,
		"VOICE_PRIMARY":           &cfg.Voices.Primary,
		"VOICE_SECONDARY":         &cfg.Voices.Secondary,
		"STT_PROVIDER":            &cfg.STTProvider,
		"STT_MODEL":               &cfg.STTModel,
		"STT_LANGUAGE":            &cfg.STTLanguage,
		"REGION":                  &cfg.Region,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HISTORY_SIZE":        &cfg.HistorySize,
		"MIN_UTTERANCE_CHARS": &cfg.MinUtteranceChars,
		"LLM_MAX_TOKENS":      &cfg.LLMMaxTokens,
		"POLL_MAX_ATTEMPTS":   &cfg.PollMaxAttempts,
		"MIC_SAMPLE_RATE":     &cfg.MicSampleRate,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			cfg.LLMTemperature = f
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "POLL_DELAYS"); v != "" {
		cfg.PollDelays = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvPrefix + "EXPRESSIVE_MARKUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ExpressiveMarkup = b
		}
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.AssemblyAIAPIKey = os.Getenv(EnvPrefix + "ASSEMBLYAI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.ElevenLabsAPIKey = os.Getenv(EnvPrefix + "ELEVENLABS_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	switch cfg.STTProvider {
	case STTDeepgram, STTAssemblyAI:
		if cfg.APIKeyFor(cfg.STTProvider) == "" {
			warnings = append(warnings, fmt.Sprintf("%s API key not configured, audio upload transcription is disabled.", cfg.STTProvider))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown stt_provider %q, audio upload transcription is disabled.", cfg.STTProvider))
	}

	if provider := cfg.LLMProvider(); provider == "" {
		warnings = append(warnings, fmt.Sprintf("Invalid llm_model %q (want provider/model), replies will use fallback text.", cfg.LLMModel))
	} else if cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured, replies will use fallback text. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	switch cfg.TTSProvider {
	case TTSElevenLabs, TTSOpenAI:
		if cfg.APIKeyFor(cfg.TTSProvider) == "" {
			warnings = append(warnings, fmt.Sprintf("%s API key not configured, replies are text-only.", cfg.TTSProvider))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown tts_provider %q, replies are text-only.", cfg.TTSProvider))
	}

	if _, err := time.ParseDuration(cfg.DebounceDelay); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid debounce_delay %q, using default 800ms.", cfg.DebounceDelay))
	}
	if _, err := time.ParseDuration(cfg.RestartDelay); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid restart_delay %q, using default 1s.", cfg.RestartDelay))
	}
	if cfg.HistorySize <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid history_size %d, using default 10.", cfg.HistorySize))
		cfg.HistorySize = 10
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
