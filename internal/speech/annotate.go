package speech

import (
	"regexp"
	"strings"
)

type markupRule struct {
	pattern *regexp.Regexp
	replace string
}

// Rules apply in order; later rules see the output of earlier ones.
var markupRules = []markupRule{
	{regexp.MustCompile(`(?i)\b(amazing|awesome|great|fantastic|wonderful|incredible)\b`), `<emphasis level="strong">$1!</emphasis>`},
	{regexp.MustCompile(`(?i)\b(understand|hear you|feel you|get that)\b`), `<prosody rate="slow" pitch="-2st">$1</prosody>`},
	{regexp.MustCompile(`\?`), `<break time="0.3s"/>?<break time="0.5s"/>`},
	{regexp.MustCompile(`\. `), `.<break time="0.5s"/> `},
	{regexp.MustCompile(`(?i)\b(you know what|here's the thing|what I notice|the thing is)\b`), `<break time="0.3s"/>$1<break time="0.2s"/>`},
	{regexp.MustCompile(`(?i)\b(totally|absolutely|definitely|completely)\b`), `<emphasis level="moderate">$1</emphasis>`},
	{regexp.MustCompile(`(?i)\b(tough|difficult|hard|challenging|struggle)\b`), `<prosody pitch="-1st">$1</prosody>`},
	{regexp.MustCompile(`(?i)\b(courage|strength|brave|strong|resilient)\b`), `<emphasis level="strong"><prosody pitch="+1st">$1</prosody></emphasis>`},
	{regexp.MustCompile(`\b(so|and|but)\b`), `<break time="0.2s"/>$1`},
	{regexp.MustCompile(`(?i)\b(hmm|well|okay)\b`), `<prosody rate="slow">$1</prosody><break time="0.3s"/>`},
	{regexp.MustCompile(`, `), `,<break time="0.2s"/> `},
	{regexp.MustCompile(`(?i)\b(proud|accomplished|achieved|success)\b`), `<prosody pitch="+2st" rate="fast"><emphasis>$1</emphasis></prosody>`},
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Annotate adds pause and emphasis markup to text for expressive delivery.
func Annotate(text string) string {
	for _, r := range markupRules {
		text = r.applyOutsideTags(text)
	}
	return text
}

// applyOutsideTags rewrites only the text between markup tags, so attribute
// values such as level="strong" are never matched by later rules.
func (r markupRule) applyOutsideTags(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(text, -1) {
		b.WriteString(r.pattern.ReplaceAllString(text[last:loc[0]], r.replace))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(r.pattern.ReplaceAllString(text[last:], r.replace))
	return b.String()
}
