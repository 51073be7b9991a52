// Package pipeline runs one conversational turn: the safety gate, reply
// generation against the compacted history, the outgoing filter, speech
// synthesis and the history append.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sjawhar/tish/internal/llm"
	"github.com/sjawhar/tish/internal/memory"
	"github.com/sjawhar/tish/internal/observe"
	"github.com/sjawhar/tish/internal/safety"
	"github.com/sjawhar/tish/internal/speech"
	"github.com/sjawhar/tish/internal/storage"
)

// ErrEmptyUtterance rejects blank input before any engine is called.
var ErrEmptyUtterance = errors.New("utterance is empty")

const (
	// GenerationFallback is spoken when the generation engine fails.
	GenerationFallback = "I'm here to listen and support you. It sounds like you have something important to share. Could you tell me more about what's on your mind?"
	// MalformedFallback is spoken when the engine answers with nothing usable.
	MalformedFallback = "I hear what you're sharing with me. Sometimes I need a moment to process - could you tell me a bit more about how you're feeling right now?"

	DefaultSynthesisTimeout = 30 * time.Second
	// DefaultTurnTimeout bounds a turn running under Detach.
	DefaultTurnTimeout = 2 * time.Minute
)

// Detach returns a context for running a turn that must finish even when ctx
// is cancelled, such as the utterance flushed when a client disconnects. It
// keeps ctx's values and ends after DefaultTurnTimeout.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), DefaultTurnTimeout)
}

// Archive persists turns and safety events. storage.SQLiteStore satisfies it.
type Archive interface {
	CreateConversation(ctx context.Context, id string, startedAt time.Time) error
	EndConversation(ctx context.Context, id string, endedAt time.Time) error
	AppendTurn(ctx context.Context, conversationID string, turn storage.TurnRecord) error
	RecordSafetyEvent(ctx context.Context, conversationID string, ev storage.SafetyEvent) error
}

// TranscriptWriter receives every completed turn. storage.Writer satisfies it.
type TranscriptWriter interface {
	Append(turn storage.TurnRecord) error
}

type Config struct {
	HistorySize int
	Voice       speech.Voice
	// SynthesisTimeout bounds one synthesis call.
	SynthesisTimeout time.Duration

	Classifier  *safety.Classifier
	Generator   llm.Client
	Synthesizer speech.Synthesizer

	Archive    Archive
	Transcript TranscriptWriter
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	// Seed fixes the welcome-message choice. Zero picks a random seed.
	Seed uint64
	Now  func() time.Time
}

// Orchestrator owns one conversation's history. Turns are serialized: each
// turn's prompt sees every earlier turn and appends land in submission order.
// Synthesis runs outside the turn lock.
type Orchestrator struct {
	classifier   *safety.Classifier
	generator    llm.Client
	synthesizer  speech.Synthesizer
	archive      Archive
	transcript   TranscriptWriter
	metrics      *observe.Metrics
	logger       *slog.Logger
	voice        speech.Voice
	synthTimeout time.Duration
	now          func() time.Time

	history *memory.History

	turnMu         sync.Mutex
	conversationID string
	archived       bool

	rngMu sync.Mutex
	rng   *rand.Rand

	hookMu  sync.RWMutex
	onTurn  func(TurnResult)
	onReset func(conversationID string)
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = safety.NewClassifier(safety.WithLogger(cfg.Logger))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if cfg.Voice == "" {
		cfg.Voice = speech.VoicePrimary
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Orchestrator{
		classifier:     cfg.Classifier,
		generator:      cfg.Generator,
		synthesizer:    cfg.Synthesizer,
		archive:        cfg.Archive,
		transcript:     cfg.Transcript,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		voice:          cfg.Voice,
		synthTimeout:   cfg.SynthesisTimeout,
		now:            cfg.Now,
		history:        memory.NewHistory(cfg.HistorySize),
		conversationID: ulid.Make().String(),
		rng:            rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// OnTurn registers a callback invoked after every completed turn.
func (o *Orchestrator) OnTurn(cb func(TurnResult)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onTurn = cb
}

// OnReset registers a callback invoked with the new conversation ID after Reset.
func (o *Orchestrator) OnReset(cb func(conversationID string)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onReset = cb
}

// TurnResult is the outcome of one turn. Audio is produced asynchronously;
// read it with Audio.
type TurnResult struct {
	ConversationID string          `json:"conversation_id"`
	Timestamp      time.Time       `json:"timestamp"`
	UserText       string          `json:"user_text"`
	ReplyText      string          `json:"reply_text"`
	IsCrisis       bool            `json:"is_crisis"`
	Severity       safety.Severity `json:"severity"`
	Emotion        speech.Tone     `json:"emotion,omitempty"`
	Filtered       bool            `json:"filtered,omitempty"`

	audio *pendingAudio
}

// Audio waits for synthesis and returns the clip, or nil when the turn has no
// audio (crisis turn, speech disabled, or synthesis failed). The error is
// non-nil only when ctx ends first.
func (r *TurnResult) Audio(ctx context.Context) ([]byte, error) {
	if r.audio == nil {
		return nil, nil
	}
	select {
	case <-r.audio.done:
		return r.audio.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingAudio struct {
	done chan struct{}
	data []byte
}

type turnOptions struct {
	speak bool
}

type TurnOption func(*turnOptions)

// WithoutSpeech skips synthesis for clients that request audio separately.
func WithoutSpeech() TurnOption {
	return func(o *turnOptions) { o.speak = false }
}

// ProcessTurn runs the pipeline for one finalized utterance. Engine failures
// degrade to fallback text or missing audio; the only error is
// ErrEmptyUtterance.
func (o *Orchestrator) ProcessTurn(ctx context.Context, utterance string, opts ...TurnOption) (*TurnResult, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, ErrEmptyUtterance
	}
	options := turnOptions{speak: true}
	for _, opt := range opts {
		opt(&options)
	}

	start := o.now()
	result, err := o.runTurn(ctx, text, options)
	if err != nil {
		return nil, err
	}

	path := "generated"
	if result.IsCrisis {
		path = "crisis"
	}
	o.metrics.RecordTurn(ctx, path)
	o.metrics.ObserveTurn(ctx, start)

	o.hookMu.RLock()
	cb := o.onTurn
	o.hookMu.RUnlock()
	if cb != nil {
		cb(*result)
	}

	return result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, text string, options turnOptions) (*TurnResult, error) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	verdict := o.classifier.Classify(text)
	o.metrics.RecordVerdict(ctx, string(verdict.Severity))

	result := &TurnResult{
		ConversationID: o.conversationID,
		UserText:       text,
		IsCrisis:       verdict.IsCrisis,
		Severity:       verdict.Severity,
	}

	if verdict.IsCrisis {
		result.ReplyText = verdict.Response
		o.recordSafetyEvent(ctx, verdict, text)
	} else {
		reply := o.generate(ctx, text)
		if f := safety.FilterOutgoing(reply); f.ShouldFilter {
			o.logger.Warn("pipeline: generated reply filtered", "conversation_id", o.conversationID)
			o.metrics.RecordFiltered(ctx)
			reply = f.Text
			result.Filtered = true
		}
		result.ReplyText = reply
		result.Emotion = speech.DetectTone(reply)
		if options.speak {
			result.audio = o.startSynthesis(ctx, reply, result.Emotion)
		}
	}

	result.Timestamp = o.now().UTC()
	turn, err := memory.NewTurn(result.Timestamp, text, result.ReplyText, result.IsCrisis)
	if err != nil {
		// unreachable with non-empty fallbacks and canned responses
		return nil, fmt.Errorf("build turn: %w", err)
	}
	o.history.Append(turn)
	o.persist(ctx, result)

	return result, nil
}

// generate calls the engine and never fails: errors and panics become
// fallback text.
func (o *Orchestrator) generate(ctx context.Context, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline: generation panicked", "panic", r)
			o.metrics.RecordProviderError(ctx, "llm", "panic")
			reply = GenerationFallback
		}
	}()

	if o.generator == nil {
		return GenerationFallback
	}

	messages := BuildPrompt(memory.Compact(o.history.Snapshot()), text)

	start := o.now()
	out, err := o.generator.Complete(ctx, messages)
	o.metrics.ObserveLLM(ctx, start)
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			o.logger.Warn("pipeline: falling back", "reason", "malformed response", "error", err)
			o.metrics.RecordProviderError(ctx, "llm", "malformed")
			return MalformedFallback
		}
		o.logger.Warn("pipeline: falling back", "reason", "generation failed", "error", err)
		o.metrics.RecordProviderError(ctx, "llm", "generate")
		return GenerationFallback
	}

	out = strings.TrimSpace(out)
	if out == "" {
		o.logger.Warn("pipeline: falling back", "reason", "blank response")
		o.metrics.RecordProviderError(ctx, "llm", "malformed")
		return MalformedFallback
	}
	return out
}

// startSynthesis runs synthesis in the background so the reply text can be
// shown without waiting for audio.
func (o *Orchestrator) startSynthesis(ctx context.Context, text string, tone speech.Tone) *pendingAudio {
	p := &pendingAudio{done: make(chan struct{})}
	if o.synthesizer == nil {
		close(p.done)
		return p
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.synthTimeout)
	go func() {
		defer close(p.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("pipeline: synthesis panicked", "panic", r)
				p.data = nil
			}
		}()

		start := o.now()
		data, err := o.synthesizer.Synthesize(sctx, speech.Request{Text: text, Voice: o.voice, Tone: tone})
		o.metrics.ObserveTTS(sctx, start)
		if err != nil {
			o.logger.Warn("pipeline: synthesis failed, continuing text-only", "error", err)
			o.metrics.RecordProviderError(sctx, "tts", "synthesize")
			return
		}
		p.data = data
	}()
	return p
}

func (o *Orchestrator) recordSafetyEvent(ctx context.Context, v safety.Verdict, input string) {
	if o.archive == nil {
		return
	}
	if err := o.ensureConversationLocked(ctx); err != nil {
		o.logger.Warn("pipeline: archive conversation failed", "error", err)
		return
	}
	ev := storage.SafetyEvent{
		Timestamp:         o.now().UTC(),
		Severity:          string(v.Severity),
		Keywords:          v.Keywords,
		ContextIndicators: v.ContextIndicators,
		Input:             input,
	}
	if err := o.archive.RecordSafetyEvent(ctx, o.conversationID, ev); err != nil {
		o.logger.Warn("pipeline: record safety event failed", "error", err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, r *TurnResult) {
	rec := storage.TurnRecord{
		Timestamp: r.Timestamp,
		UserText:  r.UserText,
		ReplyText: r.ReplyText,
		IsCrisis:  r.IsCrisis,
		Severity:  string(r.Severity),
		Emotion:   string(r.Emotion),
	}

	if o.archive != nil {
		if err := o.ensureConversationLocked(ctx); err != nil {
			o.logger.Warn("pipeline: archive conversation failed", "error", err)
		} else if err := o.archive.AppendTurn(ctx, o.conversationID, rec); err != nil {
			o.logger.Warn("pipeline: archive turn failed", "error", err)
		}
	}
	if o.transcript != nil {
		if err := o.transcript.Append(rec); err != nil {
			o.logger.Warn("pipeline: transcript append failed", "error", err)
		}
	}
}

// ensureConversationLocked creates the archive row on the first turn, so
// conversations with no turns are never stored.
func (o *Orchestrator) ensureConversationLocked(ctx context.Context) error {
	if o.archived {
		return nil
	}
	if err := o.archive.CreateConversation(ctx, o.conversationID, o.now().UTC()); err != nil {
		return err
	}
	o.archived = true
	return nil
}

// History returns a copy of the retained turns, oldest first.
func (o *Orchestrator) History() []memory.Turn {
	return o.history.Snapshot()
}

func (o *Orchestrator) HistoryCap() int {
	return o.history.Cap()
}

func (o *Orchestrator) ConversationID() string {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	return o.conversationID
}

// Reset clears the history and starts a new conversation. It waits for any
// turn in flight and is idempotent.
func (o *Orchestrator) Reset(ctx context.Context) string {
	o.turnMu.Lock()
	o.history.Reset()
	if o.archived && o.archive != nil {
		if err := o.archive.EndConversation(ctx, o.conversationID, o.now().UTC()); err != nil {
			o.logger.Warn("pipeline: end conversation failed", "conversation_id", o.conversationID, "error", err)
		}
	}
	o.archived = false
	o.conversationID = ulid.Make().String()
	id := o.conversationID
	o.turnMu.Unlock()

	o.hookMu.RLock()
	cb := o.onReset
	o.hookMu.RUnlock()
	if cb != nil {
		cb(id)
	}
	return id
}

// Close ends the archived conversation, if any.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	if !o.archived || o.archive == nil {
		return nil
	}
	o.archived = false
	return o.archive.EndConversation(ctx, o.conversationID, o.now().UTC())
}
