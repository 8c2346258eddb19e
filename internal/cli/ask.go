package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/app"
	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/pipeline"
	"github.com/snowchat/snowchat/internal/render"
)

type turnFlags struct {
	provider string
	noCache  bool
	plain    bool
	maxRows  int
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "", "provider ID from the catalog (default SNOWCHAT_LLM_PROVIDER)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "bypass the query result cache")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "disable colour output")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 50, "rows printed per result table; 0 prints all")
}

func (f *turnFlags) useCache(a *app.App) bool {
	return a.Config.Pipeline.UseCache && !f.noCache
}

func newAskCommand(opts Options) *cobra.Command {
	var flags turnFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question",
		Example: `  snowchat ask "What were the top 5 customers by revenue last month?"
  snowchat ask --provider claude-3-haiku --json "How many orders shipped late?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeApp, err := opts.openApp(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			p, err := a.Pipeline(flags.provider, false)
			if err != nil {
				return err
			}
			result, err := p.Run(ctx, pipeline.TurnInput{
				Question: strings.Join(args, " "),
				History:  conversation.State{},
				UseCache: flags.useCache(a),
			}, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(result)
			}
			r, err := render.New(render.Options{Plain: flags.plain, MaxRows: flags.maxRows})
			if err != nil {
				return err
			}
			for _, notice := range result.Notices {
				_, _ = fmt.Fprintln(out, r.Notice(notice))
			}
			_, _ = fmt.Fprint(out, r.Turn(result))
			if result.Outcome == pipeline.StateFailed {
				return fmt.Errorf("turn failed: %s", result.Answer)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the turn as JSON")
	return cmd
}
