package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Writer appends archived turns to a per-day markdown transcript.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(turn TurnRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(turn.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, FormatMarkdown(turn)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

func (w *Writer) CurrentPath() string {
	return w.PathFor(time.Now())
}

// FormatMarkdown renders a turn as two transcript lines.
func FormatMarkdown(turn TurnRecord) string {
	ts := turn.Timestamp.Format("15:04:05")
	label := "Counselor"
	if turn.IsCrisis {
		label = "Counselor (crisis support)"
	}
	return fmt.Sprintf("**[%s] You:** %s\n**[%s] %s:** %s",
		ts, strings.TrimSpace(turn.UserText),
		ts, label, strings.TrimSpace(turn.ReplyText))
}
