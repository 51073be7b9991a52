// Package safety screens user utterances for self-harm risk and generated
// replies for harmful phrasing. Everything here is offline and deterministic
// apart from the canned-response choice, which uses an injectable seed.
package safety

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Verdict is the classifier's judgment for a single piece of text. A verdict
// with IsCrisis set always carries a non-empty Response.
type Verdict struct {
	IsCrisis          bool     `json:"is_crisis"`
	Severity          Severity `json:"severity"`
	Keywords          []string `json:"keywords,omitempty"`
	ContextIndicators []string `json:"context_indicators,omitempty"`
	Response          string   `json:"response,omitempty"`
}

// directIndicators are explicit self-harm or suicide phrases. Any single
// match is a high-severity crisis.
var directIndicators = []string{
	// ideation
	"suicide", "kill myself", "end my life", "take my own life", "not worth living",
	"better off dead", "want to die", "end it all", "no point in living",
	// self-harm
	"hurt myself", "cut myself", "harm myself", "self harm", "self-harm",
	"cutting", "burning myself", "overdose",
	// hopelessness
	"no way out", "can't go on", "nothing left", "give up completely",
	"no hope", "hopeless", "pointless", "useless to try",
	// planning
	"plan to", "going to kill", "methods to", "ways to die", "how to end",
	"prepared to die", "ready to die",
}

// contextIndicators are ambiguous distress phrases. Two or more distinct
// matches escalate to a medium-severity crisis.
var contextIndicators = []string{
	"can't take it anymore", "too much pain", "unbearable", "overwhelming",
	"nobody cares", "alone", "abandoned", "worthless", "failure",
	"burden", "everyone would be better", "tired of fighting",
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSeed makes canned-response selection reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Classifier) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithLogger routes audit entries to logger instead of slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source used in audit entries.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

type Classifier struct {
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		logger: slog.Default(),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates text against the indicator tables in fixed priority
// order: direct indicators, then two or more context indicators, then a
// single context indicator.
func (c *Classifier) Classify(text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Severity: SeverityNone}
	}

	lower := strings.ToLower(text)
	direct := matchAll(lower, directIndicators)
	ctx := matchAll(lower, contextIndicators)

	v := Verdict{
		Severity:          SeverityNone,
		Keywords:          direct,
		ContextIndicators: ctx,
	}

	switch {
	case len(direct) > 0:
		v.IsCrisis = true
		v.Severity = SeverityHigh
		v.Response = c.pick(highResponses)
	case len(ctx) >= 2:
		v.IsCrisis = true
		v.Severity = SeverityMedium
		v.Response = c.pick(mediumResponses)
	case len(ctx) == 1:
		v.Severity = SeverityLow
	}

	c.audit(v, text)
	return v
}

func (c *Classifier) audit(v Verdict, input string) {
	switch {
	case v.IsCrisis:
		c.logger.Warn("safety: crisis detected",
			"timestamp", c.now().UTC().Format(time.RFC3339Nano),
			"severity", string(v.Severity),
			"keywords", v.Keywords,
			"context_indicators", v.ContextIndicators,
			"input", input,
		)
	case v.Severity == SeverityLow:
		c.logger.Info("safety: monitoring low risk indicator", "context_indicators", v.ContextIndicators)
	}
}

func (c *Classifier) pick(responses []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return responses[c.rng.IntN(len(responses))]
}

func matchAll(lower string, phrases []string) []string {
	var found []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}
