package cli

import (
	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/report"
)

var infoFlags = &struct {
	Output string
}{}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show repository status: stanzas, WAL ranges, and backup sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		stanzas, err := report.Run(cmd.Context(), report.Options{Stanza: global.Stanza, Repo: repo})
		if err != nil {
			return err
		}
		if resolveString(cmd, "output", infoFlags.Output, "text") == "json" {
			return report.FormatJSON(cmd.OutOrStdout(), stanzas)
		}
		return report.FormatText(cmd.OutOrStdout(), stanzas)
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoFlags.Output, "output", "text", "report format: text|json")
}
