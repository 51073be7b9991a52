package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRecorderTakeProducesWAV(t *testing.T) {
	recorder := NewRecorder(16000, 0)

	if _, err := recorder.Write([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	wav, err := recorder.Take()
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if len(wav) != wavHeadSize+6 {
		t.Fatalf("expected %d bytes, got %d", wavHeadSize+6, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected wav header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 6 {
		t.Fatalf("expected data size 6, got %d", size)
	}
	if !bytes.Equal(wav[44:], []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected payload %v", wav[44:])
	}

	if recorder.Len() != 0 {
		t.Fatal("expected Take to clear the buffer")
	}
	again, err := recorder.Take()
	if err != nil || again != nil {
		t.Fatalf("expected nil wav after Take, got %d bytes, err %v", len(again), err)
	}
}

func TestRecorderDropsOldestBeyondLimit(t *testing.T) {
	recorder := NewRecorder(8000, wavHeadSize+4)

	_, _ = recorder.Write([]byte{1, 2, 3, 4})
	_, _ = recorder.Write([]byte{5, 6})

	if recorder.Len() != 4 {
		t.Fatalf("expected 4 buffered bytes, got %d", recorder.Len())
	}
	wav, _ := recorder.Take()
	if !bytes.Equal(wav[44:], []byte{3, 4, 5, 6}) {
		t.Fatalf("expected newest samples kept, got %v", wav[44:])
	}
}

func TestTeeWriterWritesToBothDestinations(t *testing.T) {
	recorder := NewRecorder(0, 0)

	var downstream bytes.Buffer
	writer := recorder.Writer(&downstream)
	payload := []byte("hello-world")
	if _, err := writer.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if got := downstream.Bytes(); !bytes.Equal(got, payload) {
		t.Fatalf("downstream payload mismatch, got %q", string(got))
	}
	if recorder.Len() != len(payload) {
		t.Fatalf("expected %d recorded bytes, got %d", len(payload), recorder.Len())
	}

	recorder.Reset()
	if recorder.Len() != 0 {
		t.Fatal("expected Reset to clear the buffer")
	}
}
