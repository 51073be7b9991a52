package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultMinChars     = 10
	DefaultRestartDelay = time.Second
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type CommitReason string

const (
	CommitSilence CommitReason = "silence"
	CommitStop    CommitReason = "stop"
)

// Utterance is the committed text of one user turn.
type Utterance struct {
	Text   string       `json:"text"`
	Reason CommitReason `json:"reason"`
	At     time.Time    `json:"at"`
}

type CaptureConfig struct {
	DebounceDelay time.Duration
	RestartDelay  time.Duration
	// MinChars is the length the trimmed final text must exceed before a
	// silence commit happens.
	MinChars int
	Logger   *slog.Logger
}

// Capture turns a stream of recognition events into committed utterances.
//
// While listening, every event restarts the silence timer. When the timer
// fires and the finalized text is long enough, the text is emitted through
// OnUtterance and the transcript is cleared. A no-speech error restarts the
// channel after RestartDelay; an engine-side close restarts it immediately.
// Events from channels that have since been replaced are ignored.
type Capture struct {
	recognizer   Recognizer
	silence      *SilenceDetector
	minChars     int
	restartDelay time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	ctx          context.Context
	state        State
	gen          uint64
	channel      Channel
	transcript   *TranscriptBuffer
	restartTimer *time.Timer
	tee          io.Writer

	onUtterance  func(Utterance)
	onTranscript func(TranscriptState)
	onError      func(error)
	onState      func(State)
}

func NewCapture(recognizer Recognizer, cfg CaptureConfig) *Capture {
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Capture{
		recognizer:   recognizer,
		silence:      NewSilenceDetector(cfg.DebounceDelay),
		minChars:     cfg.MinChars,
		restartDelay: cfg.RestartDelay,
		logger:       cfg.Logger,
		now:          time.Now,
		transcript:   NewTranscriptBuffer(),
	}
	c.silence.OnSilence(c.commitOnSilence)
	return c
}

func (c *Capture) OnUtterance(cb func(Utterance)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUtterance = cb
}

func (c *Capture) OnTranscript(cb func(TranscriptState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = cb
}

func (c *Capture) OnError(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = cb
}

func (c *Capture) OnStateChange(cb func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = cb
}

// SetTee copies every audio chunk written while the capture is active to w.
func (c *Capture) SetTee(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tee = w
}

func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Capture) Transcript() TranscriptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.State()
}

// Start opens a recognition channel. Calling Start on an active capture is a
// no-op.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.ctx = ctx
	c.gen++
	gen := c.gen
	c.transcript.Reset()
	c.state = StateListening
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(StateListening)
	}

	ch, err := c.recognizer.Open(ctx, &channelSink{capture: c, gen: gen})

	c.mu.Lock()
	if err != nil {
		if c.gen == gen {
			c.state = StateIdle
		}
		c.mu.Unlock()
		if notify != nil {
			notify(StateIdle)
		}
		return fmt.Errorf("open recognition channel: %w", err)
	}
	if c.gen != gen {
		// stopped while the channel was opening
		c.mu.Unlock()
		c.closeChannel(ch)
		return nil
	}
	c.channel = ch
	c.mu.Unlock()
	return nil
}

// Stop ends the capture. Any finalized text not yet committed is emitted as a
// final utterance and returned.
func (c *Capture) Stop() (Utterance, bool) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return Utterance{}, false
	}
	c.state = StateIdle
	c.gen++
	c.silence.Cancel()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	ch := c.channel
	c.channel = nil
	text := c.transcript.Final()
	c.transcript.Reset()
	onUtterance := c.onUtterance
	notify := c.onState
	c.mu.Unlock()

	c.closeChannel(ch)
	if notify != nil {
		notify(StateIdle)
	}

	if text == "" {
		return Utterance{}, false
	}
	u := Utterance{Text: text, Reason: CommitStop, At: c.now().UTC()}
	if onUtterance != nil {
		onUtterance(u)
	}
	return u, true
}

// Write forwards audio to the open channel. Audio arriving between channels
// is dropped; writing to an idle capture returns ErrNotListening.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	state := c.state
	ch := c.channel
	tee := c.tee
	c.mu.Unlock()

	if state == StateIdle {
		return 0, ErrNotListening
	}
	if tee != nil {
		if _, err := tee.Write(p); err != nil {
			c.logger.Warn("capture: audio tee write failed", "error", err)
		}
	}
	if state != StateListening || ch == nil {
		return len(p), nil
	}
	return ch.Write(p)
}

func (c *Capture) handleResult(gen uint64, r Result) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.transcript.Apply(r, c.now().UTC())
	state := c.transcript.State()
	c.silence.Touch()
	cb := c.onTranscript
	c.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

func (c *Capture) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, ErrNoSpeech) {
		if c.state != StateListening {
			c.mu.Unlock()
			return
		}
		old := c.beginRestartLocked(c.restartDelay)
		notify := c.onState
		c.mu.Unlock()

		c.logger.Info("capture: no speech, restarting", "delay", c.restartDelay)
		c.closeChannel(old)
		if notify != nil {
			notify(StateRestarting)
		}
		return
	}
	cb := c.onError
	c.mu.Unlock()

	c.logger.Error("capture: recognition error", "error", err)
	if cb != nil {
		cb(err)
	}
}

func (c *Capture) handleEnded(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	old := c.beginRestartLocked(0)
	notify := c.onState
	c.mu.Unlock()

	c.logger.Info("capture: channel closed by engine, restarting")
	c.closeChannel(old)
	if notify != nil {
		notify(StateRestarting)
	}
}

// beginRestartLocked detaches the current channel and schedules a reopen.
// The detached channel is returned so the caller can close it after
// releasing the lock.
func (c *Capture) beginRestartLocked(delay time.Duration) Channel {
	old := c.channel
	c.channel = nil
	c.gen++
	c.state = StateRestarting
	if c.restartTimer != nil {
		c.restartTimer.Stop()
	}
	c.restartTimer = time.AfterFunc(delay, c.reopen)
	return old
}

func (c *Capture) reopen() {
	c.mu.Lock()
	if c.state != StateRestarting {
		c.mu.Unlock()
		return
	}
	c.restartTimer = nil
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	ch, err := c.recognizer.Open(ctx, &channelSink{capture: c, gen: gen})

	c.mu.Lock()
	if err != nil {
		if c.gen != gen || c.state != StateRestarting {
			c.mu.Unlock()
			return
		}
		c.state = StateIdle
		c.gen++
		c.silence.Cancel()
		cb := c.onError
		notify := c.onState
		c.mu.Unlock()

		err = fmt.Errorf("reopen recognition channel: %w", err)
		c.logger.Error("capture: restart failed", "error", err)
		if notify != nil {
			notify(StateIdle)
		}
		if cb != nil {
			cb(err)
		}
		return
	}
	if c.gen != gen || c.state != StateRestarting {
		c.mu.Unlock()
		c.closeChannel(ch)
		return
	}
	c.channel = ch
	c.state = StateListening
	notify := c.onState
	c.mu.Unlock()

	if notify != nil {
		notify(StateListening)
	}
}

// commitOnSilence also fires while a channel restart is pending; the capture
// stays continuous across restarts.
func (c *Capture) commitOnSilence() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	text := c.transcript.Final()
	if utf8.RuneCountInString(text) <= c.minChars {
		c.mu.Unlock()
		return
	}
	c.transcript.Reset()
	cb := c.onUtterance
	c.mu.Unlock()

	if cb != nil {
		cb(Utterance{Text: text, Reason: CommitSilence, At: c.now().UTC()})
	}
}

func (c *Capture) closeChannel(ch Channel) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		c.logger.Warn("capture: close recognition channel", "error", err)
	}
}

// channelSink routes events from one channel back to the capture, tagged
// with the generation the channel was opened under.
type channelSink struct {
	capture *Capture
	gen     uint64
}

func (s *channelSink) Result(r Result) { s.capture.handleResult(s.gen, r) }
func (s *channelSink) Error(err error) { s.capture.handleError(s.gen, err) }
func (s *channelSink) Ended()          { s.capture.handleEnded(s.gen) }
