// Package mic captures PCM audio from the default input device through PortAudio.
package mic

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultFramesPerBuffer is about 64ms of audio at 16kHz.
const DefaultFramesPerBuffer = 1024

// Initialize and Terminate bracket all Mic usage in a process.
func Initialize() error { return portaudio.Initialize() }
func Terminate() error  { return portaudio.Terminate() }

// Mic wraps PortAudio with a configurable buffer size.
type Mic struct {
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int
}

// NewMic opens a PortAudio capture stream with the given sample rate and buffer size (in frames).
func NewMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &Mic{stream: stream, buf: buf, sampleRate: sampleRate}, nil
}

// Streamer is the capture surface used by StreamWithRetry.
type Streamer interface {
	Stream(ctx context.Context, w io.Writer) error
}

// OpenFirst tries each candidate rate in order and returns the first that opens.
func OpenFirst(candidates []int, framesPerBuffer int) (*Mic, error) {
	return openFirst(candidates, func(rate int) (*Mic, error) {
		return NewMic(rate, framesPerBuffer)
	})
}

func openFirst(candidates []int, open func(rate int) (*Mic, error)) (*Mic, error) {
	var lastErr error
	for _, rate := range candidates {
		mic, err := open(rate)
		if err != nil {
			slog.Warn("mic: open failed", "rate", rate, "err", err)
			lastErr = err
			continue
		}
		return mic, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sample rates to try")
	}
	return nil, fmt.Errorf("open microphone: %w", lastErr)
}

func (m *Mic) SampleRate() int { return m.sampleRate }
func (m *Mic) Start() error    { return m.stream.Start() }
func (m *Mic) Stop() error     { return m.stream.Stop() }
func (m *Mic) Close() error    { return m.stream.Close() }

// Stream reads from the mic and writes PCM16-LE to w until ctx is done or an error.
func (m *Mic) Stream(ctx context.Context, w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2) // pre-allocate: int16 = 2 bytes per sample
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// StreamWithRetry restarts the stream after input overflows and returns on
// any other error or when ctx is done.
func StreamWithRetry(ctx context.Context, streamer Streamer, w io.Writer, wait func(time.Duration)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := streamer.Stream(ctx, w)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			slog.Warn("mic: input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		return fmt.Errorf("mic stream: %w", err)
	}
}
