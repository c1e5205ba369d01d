// Package ai talks to the language models the reference worker answers
// prompts with.
package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces one complete assistant reply for a conversation.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Conversation builds the message list for a single prompt.
func Conversation(systemPrompt, prompt string) []Message {
	out := make([]Message, 0, 2)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, Message{Role: RoleUser, Content: prompt})
}
