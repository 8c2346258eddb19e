// Package prompt turns a question, the conversation so far and the retrieved
// schema context into the message sequence a provider receives.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/retrieval"
)

// DefaultSystem is the instruction every turn is grounded on.
const DefaultSystem = `You are a friendly data assistant that writes Snowflake SQL. Your goal is to help the user query the warehouse accurately and safely.

Follow these rules:
1. Answer with at most one SQL statement per question.
2. Only use tables and columns that appear in the schema details you are given. Never assume a column exists when it is not mentioned there.
3. Write read-only queries. Never produce INSERT, UPDATE, DELETE, DROP, ALTER or TRUNCATE statements.
4. Put the SQL inside a markdown code block tagged sql, like ` + "```sql" + `.
5. If the question is not about the data, reply conversationally without SQL. When the user says thanks, close the conversation politely.
6. If you cannot answer from the schema details, say "I'm sorry, I don't know the answer to your question."

Format the rest of the answer as markdown.`

const (
	questionHeader = "User Question: "
	contextHeader  = "Context - (Schema Details):"
	emptyContext   = "No schema details matched this question."
)

// Prompt is the input of one model call. Build returns a fresh value for every
// call and nothing in this package mutates it afterwards.
type Prompt struct {
	System   string
	History  []conversation.Turn
	Context  retrieval.Context
	Question string
}

type Options struct {
	System string
	// MaxContextTokens bounds the schema context in cl100k_base tokens. Zero
	// disables the bound.
	MaxContextTokens int
}

type Assembler struct {
	system           string
	maxContextTokens int
	codec            tokenizer.Codec
}

func NewAssembler(opts Options) (*Assembler, error) {
	system := strings.TrimSpace(opts.System)
	if system == "" {
		system = DefaultSystem
	}
	a := &Assembler{system: system, maxContextTokens: opts.MaxContextTokens}
	if opts.MaxContextTokens > 0 {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("load cl100k_base tokenizer: %w", err)
		}
		a.codec = codec
	}
	return a, nil
}

// Build is a pure function of its arguments. The inputs are copied so later
// changes by the caller never leak into the returned Prompt.
func (a *Assembler) Build(question string, history []conversation.Turn, ctx retrieval.Context) Prompt {
	snippets := make([]retrieval.Snippet, len(ctx.Snippets))
	copy(snippets, ctx.Snippets)
	turns := make([]conversation.Turn, len(history))
	copy(turns, history)

	return Prompt{
		System:   a.system,
		History:  turns,
		Context:  retrieval.Context{Snippets: a.fit(snippets)},
		Question: question,
	}
}

// fit drops snippets from the least relevant end until the joined context is
// within budget.
func (a *Assembler) fit(snippets []retrieval.Snippet) []retrieval.Snippet {
	if a.codec == nil {
		return snippets
	}
	for len(snippets) > 0 {
		if a.tokens(retrieval.Context{Snippets: snippets}.Text()) <= a.maxContextTokens {
			break
		}
		snippets = snippets[:len(snippets)-1]
	}
	return snippets
}

func (a *Assembler) tokens(text string) int {
	ids, _, err := a.codec.Encode(text)
	if err != nil {
		// Fall back to a coarse estimate rather than dropping the context.
		return len(text) / 4
	}
	return len(ids)
}

// FixQuestion is the question sent when a generated query failed.
func FixQuestion(sql, errMessage string) string {
	return "You gave me a wrong SQL. FIX The SQL query by searching the schema definition:\n```sql\n" +
		sql + "\n```\nError message:\n" + errMessage
}

// UserContent is the final user message: the question followed by the schema
// context section. The section is present even when nothing was retrieved.
func (p Prompt) UserContent() string {
	contextText := p.Context.Text()
	if strings.TrimSpace(contextText) == "" {
		contextText = emptyContext
	}
	var b strings.Builder
	b.WriteString(questionHeader)
	b.WriteString(p.Question)
	b.WriteString("\n\n")
	b.WriteString(contextHeader)
	b.WriteString("\n")
	b.WriteString(contextText)
	return b.String()
}

// Messages serializes the prompt for a provider family.
func (p Prompt) Messages(variant llm.PromptVariant) []llm.Message {
	if variant == llm.VariantInstruct {
		return []llm.Message{{Role: llm.RoleUser, Content: p.instruct()}}
	}

	messages := make([]llm.Message, 0, 2+2*len(p.History))
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.System})
	for _, turn := range p.History {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: p.UserContent()})
}

// instruct wraps the whole conversation in the Llama 2 chat template.
func (p Prompt) instruct() string {
	var b strings.Builder
	b.WriteString("[INST] <<SYS>>\n")
	b.WriteString(p.System)
	b.WriteString("\n<</SYS>>\n\n")
	for _, turn := range p.History {
		b.WriteString(turn.Question)
		b.WriteString(" [/INST] ")
		b.WriteString(turn.Answer)
		b.WriteString(" [INST] ")
	}
	b.WriteString(p.UserContent())
	b.WriteString(" [/INST]")
	return b.String()
}
