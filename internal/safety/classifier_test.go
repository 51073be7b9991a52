package safety

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"
)

func quietClassifier(opts ...Option) *Classifier {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewClassifier(opts...)
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantCrisis bool
		wantSev    Severity
	}{
		{name: "direct phrase", input: "I want to end my life", wantCrisis: true, wantSev: SeverityHigh},
		{name: "direct phrase mixed case", input: "Sometimes I think about SUICIDE", wantCrisis: true, wantSev: SeverityHigh},
		{name: "two context indicators", input: "Nobody cares about me and I feel so alone", wantCrisis: true, wantSev: SeverityMedium},
		{name: "direct wins over context", input: "I'm alone and worthless and I want to die", wantCrisis: true, wantSev: SeverityHigh},
		{name: "single context indicator", input: "Work has been overwhelming lately", wantCrisis: false, wantSev: SeverityLow},
		{name: "benign", input: "I had a great day at work today", wantCrisis: false, wantSev: SeverityNone},
		{name: "empty", input: "", wantCrisis: false, wantSev: SeverityNone},
		{name: "whitespace", input: "   \n\t", wantCrisis: false, wantSev: SeverityNone},
	}

	c := quietClassifier(WithSeed(1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.input)
			if got.IsCrisis != tt.wantCrisis {
				t.Fatalf("expected IsCrisis=%v, got %v", tt.wantCrisis, got.IsCrisis)
			}
			if got.Severity != tt.wantSev {
				t.Fatalf("expected severity %q, got %q", tt.wantSev, got.Severity)
			}
			if got.IsCrisis && got.Response == "" {
				t.Fatal("expected crisis verdict to carry a response")
			}
			if !got.IsCrisis && got.Response != "" {
				t.Fatalf("expected no response for non-crisis verdict, got %q", got.Response)
			}
		})
	}
}

func TestClassifyReportsMatchedTerms(t *testing.T) {
	c := quietClassifier(WithSeed(1))

	got := c.Classify("Nobody cares, I'm alone")
	if !slices.Equal(got.ContextIndicators, []string{"nobody cares", "alone"}) {
		t.Fatalf("unexpected context indicators: %#v", got.ContextIndicators)
	}
	if len(got.Keywords) != 0 {
		t.Fatalf("expected no direct keywords, got %#v", got.Keywords)
	}

	got = c.Classify("I want to end my life")
	if !slices.Contains(got.Keywords, "end my life") {
		t.Fatalf("expected 'end my life' in keywords, got %#v", got.Keywords)
	}
}

func TestClassifyResponseComesFromSeverityTable(t *testing.T) {
	c := quietClassifier(WithSeed(7))

	for range 20 {
		high := c.Classify("I want to kill myself")
		if !slices.Contains(highResponses, high.Response) {
			t.Fatalf("high response not from high table: %q", high.Response)
		}
		medium := c.Classify("I feel worthless, like a burden")
		if !slices.Contains(mediumResponses, medium.Response) {
			t.Fatalf("medium response not from medium table: %q", medium.Response)
		}
	}
}

func TestClassifySeedIsDeterministic(t *testing.T) {
	a := quietClassifier(WithSeed(42))
	b := quietClassifier(WithSeed(42))

	for range 10 {
		ra := a.Classify("better off dead").Response
		rb := b.Classify("better off dead").Response
		if ra != rb {
			t.Fatalf("expected identical responses for identical seeds, got %q vs %q", ra, rb)
		}
	}
}

func TestClassifyLogsCrisisAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewClassifier(WithLogger(logger), WithSeed(1), WithClock(func() time.Time { return fixed }))
	c.Classify("I want to end my life")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON log entry, got %q: %v", buf.String(), err)
	}
	if entry["severity"] != "high" {
		t.Fatalf("expected severity high in audit entry, got %#v", entry["severity"])
	}
	if entry["input"] != "I want to end my life" {
		t.Fatalf("expected original input in audit entry, got %#v", entry["input"])
	}
	if entry["timestamp"] != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %#v", entry["timestamp"])
	}
}

func TestClassifyDoesNotAuditBenignText(t *testing.T) {
	var buf bytes.Buffer
	c := NewClassifier(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	c.Classify("I had a great day at work today")
	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}

func TestFilterOutgoing(t *testing.T) {
	got := FilterOutgoing("Honestly you'd be better off dead.")
	if !got.ShouldFilter {
		t.Fatal("expected harmful reply to be filtered")
	}
	if got.Text != SafeFallback {
		t.Fatalf("expected safe fallback, got %q", got.Text)
	}

	clean := "That sounds like a lot to hold. What helped last time?"
	got = FilterOutgoing(clean)
	if got.ShouldFilter || got.Text != clean {
		t.Fatalf("expected clean reply to pass through, got %#v", got)
	}

	if got := FilterOutgoing(""); got.ShouldFilter || got.Text != "" {
		t.Fatalf("expected empty reply to pass through, got %#v", got)
	}
}

func TestLookupResources(t *testing.T) {
	if got := LookupResources("uk"); got.Emergency != "999" {
		t.Fatalf("expected UK emergency 999, got %q", got.Emergency)
	}
	if got := LookupResources("ZZ"); got.Region != DefaultRegion {
		t.Fatalf("expected default region for unknown code, got %q", got.Region)
	}
	if got := LookupResources(""); !strings.Contains(got.Primary, "988") {
		t.Fatalf("expected US primary line, got %q", got.Primary)
	}
}
