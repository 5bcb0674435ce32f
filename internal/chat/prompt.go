package chat

import (
	"fmt"
	"strings"

	"github.com/quillvault/quill/internal/gemini"
	"github.com/quillvault/quill/internal/vault"
)

const systemTemplate = `You are Quill, a research assistant for the vault %q.

Answer the user's question using ONLY the vault content below. Rules:
- Ground every claim in the provided sources and cite them inline as [Source N].
- Synthesize across sources when several are relevant, citing each one used.
- When the question names an author, rely on the sources attributed to that author.
- If the vault content does not answer the question, say so plainly instead of guessing.
- Keep answers focused; do not pad with information the user did not ask for.

Vault content:

%s`

// buildRequest assembles the provider request: a system instruction
// carrying the grounding rules and retrieved context, the bounded
// conversation history, and the question as the final user turn.
func buildRequest(vaultName, contextText string, history []vault.Message, question string) gemini.GenerateRequest {
	messages := make([]gemini.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, gemini.Message{
			Role: providerRole(m.Role),
			Text: m.Content,
		})
	}
	messages = append(messages, gemini.Message{Role: gemini.RoleUser, Text: question})

	return gemini.GenerateRequest{
		System:   fmt.Sprintf(systemTemplate, vaultName, strings.TrimSpace(contextText)),
		Messages: messages,
	}
}

// providerRole maps stored roles onto the provider's wire roles.
// Anything unexpected is treated as a user turn rather than dropped.
func providerRole(role string) string {
	if role == vault.RoleAssistant {
		return gemini.RoleModel
	}
	return gemini.RoleUser
}
