package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	DefaultSampleRate = 16000
	// DefaultMaxBytes bounds one buffered utterance; older audio is dropped.
	DefaultMaxBytes = 10 << 20

	WAVContentType = "audio/wav"

	pcmChannels = 1
	pcmBitDepth = 16
	wavHeadSize = 44
)

// Recorder keeps the raw PCM16-LE audio of the utterance in progress so it
// can be re-sent to a batch transcriber when live recognition heard nothing.
type Recorder struct {
	mu         sync.Mutex
	pcm        []byte
	sampleRate int
	maxBytes   int
}

func NewRecorder(sampleRate, maxBytes int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Recorder{sampleRate: sampleRate, maxBytes: maxBytes - wavHeadSize}
}

func (r *Recorder) SetSampleRate(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sampleRate > 0 {
		r.sampleRate = sampleRate
	}
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pcm = append(r.pcm, p...)
	if over := len(r.pcm) - r.maxBytes; over > 0 {
		// keep whole samples
		over = min(over+over%2, len(r.pcm))
		r.pcm = append(r.pcm[:0], r.pcm[over:]...)
	}
	return len(p), nil
}

// Writer returns a writer that forwards to dst and records what dst accepted.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm = r.pcm[:0]
}

// Take returns the buffered audio as a WAV file and clears the buffer.
// It returns nil when nothing was recorded.
func (r *Recorder) Take() ([]byte, error) {
	r.mu.Lock()
	pcm := r.pcm
	sampleRate := r.sampleRate
	r.pcm = nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		return nil, nil
	}
	return EncodeWAV(pcm, sampleRate)
}

// EncodeWAV wraps mono PCM16-LE samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	header, err := wavHeader(len(pcm), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return nil, fmt.Errorf("build wav header: %w", err)
	}

	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	out = append(out, pcm...)
	return out, nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, wavHeadSize))
	if _, err := buf.WriteString("RIFF"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("WAVEfmt "); err != nil {
		return nil, err
	}

	fmtChunk := []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	}
	for _, v := range fmtChunk {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	if _, err := buf.WriteString("data"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

type teeWriter struct {
	recorder *Recorder
	dst      io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		_, _ = w.recorder.Write(p[:n])
	}
	return n, err
}
