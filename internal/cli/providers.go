package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/snowchat/snowchat/internal/llm/providers"
	"github.com/snowchat/snowchat/internal/render"
)

func newProvidersCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the models in the provider catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closeLog, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			catalog, err := providers.Load(cfg.LLM.CatalogPath)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, id := range catalog.IDs() {
				p, _ := catalog.Lookup(id)
				marker := ""
				if id == cfg.LLM.Provider {
					marker = " *"
				}
				key := "missing"
				if p.Credential() != "" {
					key = "set"
				}
				rows = append(rows, []string{id + marker, p.Kind, p.Model, string(p.Variant()), key})
			}
			_, err = io.WriteString(cmd.OutOrStdout(), render.Grid([]string{"ID", "KIND", "MODEL", "PROMPT", "KEY"}, rows))
			return err
		},
	}
}
