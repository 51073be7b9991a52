package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var emotionPattern = regexp.MustCompile(`\bfeel(?:ing)?\s+(\w+)`)

// topicTriggers maps each topic tag to the terms that mark it present.
var topicTriggers = map[string][]string{
	"stress":        {"stress"},
	"work":          {"work", "job", "boss", "career"},
	"family":        {"family", "mom", "dad", "mother", "father", "parent", "sister", "brother"},
	"relationships": {"relationship", "partner", "boyfriend", "girlfriend", "marriage", "divorce"},
	"anxiety":       {"anxiety", "anxious", "panic", "worried"},
	"depression":    {"depression", "depressed"},
	"school":        {"school", "exam", "class", "college"},
	"friends":       {"friend"},
	"money":         {"money", "rent", "debt", "bills"},
	"health":        {"health", "sick", "doctor", "sleep"},
}

var struggleTerms = []string{"struggle", "difficult", "hard", "tough", "challenging", "overwhelming"}

var strengthTerms = []string{"strong", "proud", "accomplished", "good", "better", "progress"}

// Set is an unordered collection of unique terms.
type Set map[string]struct{}

func (s Set) Add(v string) { s[v] = struct{}{} }

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in lexical order, for stable rendering.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type Profile struct {
	Emotions  Set
	Topics    Set
	Struggles Set
	Strengths Set
}

// Context is the compacted memory handed to the prompt builder.
type Context struct {
	Turns   []Turn
	Profile Profile
}

// IsConversationStart reports that there is no prior turn, so the prompt
// should omit memory framing.
func (c Context) IsConversationStart() bool {
	return len(c.Turns) == 0
}

// Compact walks the whole retained history and derives the tag profile. The
// turns themselves are kept verbatim; bounding happens in History.
func Compact(turns []Turn) Context {
	ctx := Context{
		Turns: append([]Turn(nil), turns...),
		Profile: Profile{
			Emotions:  Set{},
			Topics:    Set{},
			Struggles: Set{},
			Strengths: Set{},
		},
	}

	for _, t := range turns {
		text := strings.ToLower(t.UserText)

		for _, m := range emotionPattern.FindAllStringSubmatch(text, -1) {
			ctx.Profile.Emotions.Add("feeling " + m[1])
		}
		for topic, triggers := range topicTriggers {
			if containsAny(text, triggers) {
				ctx.Profile.Topics.Add(topic)
			}
		}
		for _, term := range struggleTerms {
			if strings.Contains(text, term) {
				ctx.Profile.Struggles.Add(term)
			}
		}
		for _, term := range strengthTerms {
			if strings.Contains(text, term) {
				ctx.Profile.Strengths.Add(term)
			}
		}
	}

	return ctx
}

// Summary renders the memory section of a prompt.
func (c Context) Summary() string {
	if c.IsConversationStart() {
		return "This is the start of the conversation. There is no earlier context."
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n\n")
	for i, t := range c.Turns {
		fmt.Fprintf(&b, "Turn %d:\nUser: %s\nCounselor: %s\n\n", i+1, t.UserText, t.AIText)
	}

	b.WriteString("What the user has shared:\n")
	writeSet(&b, "Emotions mentioned", c.Profile.Emotions)
	writeSet(&b, "Topics discussed", c.Profile.Topics)
	writeSet(&b, "Current struggles", c.Profile.Struggles)
	writeSet(&b, "Strengths shown", c.Profile.Strengths)

	return strings.TrimRight(b.String(), "\n")
}

func writeSet(b *strings.Builder, label string, s Set) {
	if len(s) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(s.Sorted(), ", "))
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
