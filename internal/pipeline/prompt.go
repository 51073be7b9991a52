package pipeline

import (
	"fmt"

	"github.com/sjawhar/tish/internal/llm"
	"github.com/sjawhar/tish/internal/memory"
)

const counselorPrompt = `You are Tish, a warm and attentive counselor speaking with someone out loud.

How you speak:
- Match their energy: upbeat when they share good news, gentle and slower when things are hard.
- Validate first, then ask one gentle question or offer one helpful perspective.
- Talk like a person, with natural phrases such as "Oh wow", "Hmm" or "You know what?".
- Refer back to what they told you earlier when it connects.

Your replies are spoken aloud, so keep them to one or two short sentences with no lists, markdown or emoji.`

const startFraming = "This is the beginning of the conversation. Be welcoming and curious."

// BuildPrompt assembles the generation request for utterance given the
// compacted memory of earlier turns.
func BuildPrompt(mc memory.Context, utterance string) []llm.Message {
	system := counselorPrompt + "\n\n"
	if mc.IsConversationStart() {
		system += startFraming
	} else {
		system += "Remember these details about the person:\n\n" + mc.Summary()
	}

	user := fmt.Sprintf("Current user message: %q\n\nRespond with empathy, in a way that sounds natural when spoken.", utterance)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}
