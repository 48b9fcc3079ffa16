package cli

import (
	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/lock"
)

var controlFlags = &struct {
	All bool
}{}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Remove a stanza's stop file, re-permitting backup/archive/restore operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lock.Resume(lockPath(cmd), controlStanza())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Create a stop file, refusing new backup/archive/restore operations for a stanza",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lock.Stop(lockPath(cmd), controlStanza())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{startCmd, stopCmd} {
		cmd.Flags().BoolVar(&controlFlags.All, "all", false, "apply to every stanza instead of --stanza")
	}
}

func controlStanza() string {
	if controlFlags.All {
		return "all"
	}
	return global.Stanza
}
