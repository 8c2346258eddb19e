package prompt

import (
	"reflect"
	"strings"
	"testing"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/retrieval"
)

func newAssembler(t *testing.T, opts Options) *Assembler {
	t.Helper()
	a, err := NewAssembler(opts)
	if err != nil {
		t.Fatalf("NewAssembler() error = %v", err)
	}
	return a
}

func TestBuildEmptyContextIsWellFormed(t *testing.T) {
	p := newAssembler(t, Options{}).Build("top customers?", nil, retrieval.Context{})
	if p.System != DefaultSystem {
		t.Fatalf("System not defaulted")
	}
	messages := p.Messages(llm.VariantChat)
	if len(messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(messages))
	}
	last := messages[1].Content
	for _, want := range []string{"User Question: top customers?", "Context - (Schema Details):", emptyContext} {
		if !strings.Contains(last, want) {
			t.Fatalf("user content %q missing %q", last, want)
		}
	}
}

func TestBuildIsDeterministicAndCopiesInputs(t *testing.T) {
	a := newAssembler(t, Options{})
	history := []conversation.Turn{{Question: "q1", Answer: "a1"}}
	ctx := retrieval.Context{Snippets: []retrieval.Snippet{{Text: "TABLE orders"}}}

	first := a.Build("q2", history, ctx)
	second := a.Build("q2", history, ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Build() not deterministic")
	}

	history[0].Answer = "changed"
	ctx.Snippets[0].Text = "changed"
	if first.History[0].Answer != "a1" || first.Context.Snippets[0].Text != "TABLE orders" {
		t.Fatalf("Build() aliases caller slices: %+v", first)
	}
}

func TestChatMessagesAlternateHistory(t *testing.T) {
	p := newAssembler(t, Options{System: "sys"}).Build("q3", []conversation.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	}, retrieval.Context{Snippets: []retrieval.Snippet{{Text: "A"}, {Text: "B"}}})

	messages := p.Messages(llm.VariantChat)
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.Role
	}
	want := []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if !reflect.DeepEqual(roles, want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	if messages[1].Content != "q1" || messages[4].Content != "a2" {
		t.Fatalf("history out of order: %+v", messages)
	}
	if !strings.HasSuffix(messages[5].Content, "A"+retrieval.Separator+"B") {
		t.Fatalf("context not joined: %q", messages[5].Content)
	}
}

func TestInstructVariantWrapsSingleMessage(t *testing.T) {
	p := newAssembler(t, Options{System: "sys"}).Build("q2", []conversation.Turn{{Question: "q1", Answer: "a1"}}, retrieval.Context{})
	messages := p.Messages(llm.VariantInstruct)
	if len(messages) != 1 || messages[0].Role != llm.RoleUser {
		t.Fatalf("Messages(instruct) = %+v", messages)
	}
	got := messages[0].Content
	if !strings.HasPrefix(got, "[INST] <<SYS>>\nsys\n<</SYS>>\n\nq1 [/INST] a1 [INST] User Question: q2") {
		t.Fatalf("instruct prompt = %q", got)
	}
	if !strings.HasSuffix(got, " [/INST]") {
		t.Fatalf("instruct prompt not closed: %q", got)
	}
}

func TestContextBudgetDropsLeastRelevant(t *testing.T) {
	a := newAssembler(t, Options{MaxContextTokens: 12})
	ctx := retrieval.Context{Snippets: []retrieval.Snippet{
		{Text: "TABLE orders (id INT)", Score: 0.9},
		{Text: strings.Repeat("column description ", 40), Score: 0.5},
	}}
	p := a.Build("q", nil, ctx)
	if len(p.Context.Snippets) != 1 || p.Context.Snippets[0].Score != 0.9 {
		t.Fatalf("Context = %+v, want only the top snippet", p.Context.Snippets)
	}
	if len(ctx.Snippets) != 2 {
		t.Fatalf("caller context mutated")
	}
}

func TestFixQuestionEmbedsSQLAndError(t *testing.T) {
	got := FixQuestion("SELECT foo FROM t", "invalid identifier 'FOO'")
	if !strings.Contains(got, "```sql\nSELECT foo FROM t\n```") || !strings.HasSuffix(got, "invalid identifier 'FOO'") {
		t.Fatalf("FixQuestion() = %q", got)
	}
}

func TestCondenseMessagesIncludesHistory(t *testing.T) {
	messages := CondenseMessages("and last year?", []conversation.Turn{{Question: "sales this year", Answer: "42"}})
	if len(messages) != 1 {
		t.Fatalf("len = %d", len(messages))
	}
	for _, want := range []string{"Human: sales this year", "Assistant: 42", "Follow Up Input: and last year?"} {
		if !strings.Contains(messages[0].Content, want) {
			t.Fatalf("condense prompt missing %q", want)
		}
	}
}
