package cli

import (
	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/backup"
)

var expireFlags = &struct {
	RetentionFull    int
	RetentionDiff    int
	RetentionArchive int
}{}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Apply retention rules and remove the backups they expire",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		opt := backup.RetentionOptions{
			RetentionFull:    resolveInt(cmd, "retention-full", expireFlags.RetentionFull, 0),
			RetentionDiff:    resolveInt(cmd, "retention-diff", expireFlags.RetentionDiff, 0),
			RetentionArchive: resolveInt(cmd, "retention-archive", expireFlags.RetentionArchive, 0),
		}
		removed, err := backup.Expire(cmd.Context(), repo, stanza, opt)
		if err != nil {
			return err
		}
		for _, label := range removed {
			cmd.Println("expired:", label)
		}
		return nil
	},
}

func init() {
	f := expireCmd.Flags()
	f.IntVar(&expireFlags.RetentionFull, "retention-full", 0, "full backups to keep (0 keeps all)")
	f.IntVar(&expireFlags.RetentionDiff, "retention-diff", 0, "differentials to keep per retained full (0 keeps all)")
	f.IntVar(&expireFlags.RetentionArchive, "retention-archive", 0, "fulls whose WAL range stays archived (0 keeps all)")
}
