package ai

import "strings"

const basePrompt = `You are Sai Kaki, a warm and plain-spoken chat companion.
Answer in the user's language, keep replies conversational, and admit when
you do not know something instead of inventing facts.`

// BuildSystemPrompt assembles the assistant's system prompt, folding in the
// caller-derived locality hint when one is available.
func BuildSystemPrompt(locality string) string {
	if locality == "" {
		return basePrompt
	}

	var builder strings.Builder
	builder.WriteString(basePrompt)
	builder.WriteString("\n\nThe user appears to be near: ")
	builder.WriteString(locality)
	builder.WriteString(". Use this only when the question is location-sensitive.")
	return builder.String()
}
