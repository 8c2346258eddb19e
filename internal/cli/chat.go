package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/app"
	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/render"
)

const chatHelp = `Type a question and press enter.
  /reset     forget the conversation
  /provider  show or switch the model, e.g. /provider claude-3-haiku
  /exit      quit`

func newChatCommand(opts Options) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with streamed answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeApp, err := opts.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			r, err := render.New(render.Options{Plain: flags.plain, MaxRows: flags.maxRows})
			if err != nil {
				return err
			}
			s := &chatSession{
				app:      a,
				renderer: r,
				provider: flags.provider,
				useCache: flags.useCache(a),
				out:      cmd.OutOrStdout(),
			}
			return s.loop(cmd, cmd.InOrStdin())
		},
	}
	flags.register(cmd)
	return cmd
}

type chatSession struct {
	app      *app.App
	renderer *render.Renderer
	provider string
	useCache bool
	history  conversation.State
	out      io.Writer
}

func (s *chatSession) loop(cmd *cobra.Command, in io.Reader) error {
	_, _ = fmt.Fprintln(s.out, chatHelp)
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(s.out, "\n> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			s.history = s.history.Reset()
			_, _ = fmt.Fprintln(s.out, s.renderer.Notice("conversation cleared"))
			continue
		case strings.HasPrefix(line, "/provider"):
			s.switchProvider(strings.TrimSpace(strings.TrimPrefix(line, "/provider")))
			continue
		}

		if err := s.ask(cmd, line); err != nil {
			return err
		}
	}
}

func (s *chatSession) switchProvider(id string) {
	if id == "" {
		current := s.provider
		if current == "" {
			current = s.app.Config.LLM.Provider
		}
		_, _ = fmt.Fprintf(s.out, "provider: %s (available: %s)\n", current, strings.Join(s.app.Catalog.IDs(), ", "))
		return
	}
	if _, ok := s.app.Catalog.Lookup(id); !ok {
		_, _ = fmt.Fprintln(s.out, s.renderer.Error("unknown provider "+id))
		return
	}
	s.provider = id
	_, _ = fmt.Fprintf(s.out, "provider: %s\n", id)
}

func (s *chatSession) ask(cmd *cobra.Command, question string) error {
	p, err := s.app.Pipeline(s.provider, true)
	if err != nil {
		return err
	}

	streamed := false
	result, err := p.Run(cmd.Context(), pipeline.TurnInput{
		Question: question,
		History:  s.history,
		UseCache: s.useCache,
	}, func(event pipeline.Event) {
		switch event.Kind {
		case pipeline.EventToken:
			streamed = true
			_, _ = fmt.Fprint(s.out, event.Delta)
		case pipeline.EventNotice:
			_, _ = fmt.Fprintf(s.out, "\n%s\n", s.renderer.Notice(event.Notice))
		}
	})
	if err != nil {
		return err
	}
	if streamed {
		_, _ = fmt.Fprint(s.out, "\n\n")
	}

	if result.Result != nil {
		_, _ = fmt.Fprint(s.out, s.renderer.Table(*result.Result))
	}
	switch result.Outcome {
	case pipeline.StateRejected, pipeline.StateFailed:
		_, _ = fmt.Fprintln(s.out, s.renderer.Error(result.Answer))
	case pipeline.StateExhaustedRetries:
		_, _ = fmt.Fprintln(s.out, s.renderer.Error("last error: "+result.RetryState.LastError))
	default:
		if !streamed {
			_, _ = fmt.Fprint(s.out, s.renderer.Markdown(result.Answer))
		}
	}
	s.history = result.History
	return nil
}
