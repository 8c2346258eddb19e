// Package render formats turns for a terminal: markdown answers through
// glamour and result rows as a lipgloss table.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/query"
)

type Options struct {
	Width int
	// Plain disables colour, for pipes and tests.
	Plain bool
	// MaxRows caps the rows printed per table; 0 prints all of them.
	MaxRows int
}

type Renderer struct {
	md      *glamour.TermRenderer
	plain   bool
	maxRows int

	noticeStyle lipgloss.Style
	errorStyle  lipgloss.Style
	sqlStyle    lipgloss.Style
	headerStyle lipgloss.Style
}

func New(opts Options) (*Renderer, error) {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	style := glamour.WithAutoStyle()
	if opts.Plain {
		style = glamour.WithStandardStyle("notty")
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}

	r := &Renderer{md: md, plain: opts.Plain, maxRows: opts.MaxRows}
	if !opts.Plain {
		r.noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
		r.errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		r.sqlStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		r.headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	}
	return r, nil
}

// Markdown renders text, returning it unchanged if glamour fails.
func (r *Renderer) Markdown(text string) string {
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (r *Renderer) Notice(text string) string {
	return r.noticeStyle.Render(text)
}

func (r *Renderer) Error(text string) string {
	return r.errorStyle.Render(text)
}

// Table draws result as a bordered table. Values print with %v and NULL for
// nil.
func (r *Renderer) Table(result query.Result) string {
	rows := result.Rows
	truncated := 0
	if r.maxRows > 0 && len(rows) > r.maxRows {
		truncated = len(rows) - r.maxRows
		rows = rows[:r.maxRows]
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(result.Columns...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		t.Row(cells...)
	}

	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	suffix := ""
	if result.Cached {
		suffix = ", cached"
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "%d rows shown, %d more not shown%s\n", len(rows), truncated, suffix)
	} else {
		fmt.Fprintf(&b, "%d rows%s\n", len(rows), suffix)
	}
	return b.String()
}

// Grid draws a borderless listing, used for catalogs rather than query rows.
func Grid(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderHeader(false).
		Headers(headers...).
		StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().PaddingRight(2)
		}).
		Rows(rows...)
	return t.String() + "\n"
}

// Turn renders the answer, the SQL that ran and its rows.
func (r *Renderer) Turn(result pipeline.TurnResult) string {
	var b strings.Builder
	b.WriteString(r.Markdown(result.Answer))
	if result.SQL != "" && result.Result != nil {
		b.WriteString(r.sqlStyle.Render(result.SQL))
		b.WriteString("\n\n")
		b.WriteString(r.Table(*result.Result))
	}
	switch result.Outcome {
	case pipeline.StateExhaustedRetries:
		b.WriteString(r.Error("last error: " + result.RetryState.LastError))
		b.WriteString("\n")
	}
	return b.String()
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
