package prompt

import (
	"strings"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/llm"
)

const condenseInstruction = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question that keeps all the details needed to search a database schema. Reply with the standalone question only.`

// CondenseMessages asks the model for a standalone version of a follow-up
// question, used as the retrieval query when history is present.
func CondenseMessages(question string, history []conversation.Turn) []llm.Message {
	var b strings.Builder
	b.WriteString(condenseInstruction)
	b.WriteString("\n\nChat History:\n")
	for _, turn := range history {
		b.WriteString("Human: ")
		b.WriteString(turn.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(turn.Answer)
		b.WriteString("\n")
	}
	b.WriteString("Follow Up Input: ")
	b.WriteString(question)
	b.WriteString("\nStandalone question:")
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}
