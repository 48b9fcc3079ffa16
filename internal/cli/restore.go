package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/restore"
)

var restoreFlags = &struct {
	Set              string
	Delta            bool
	Force            bool
	Preserve         bool
	ControlPath      string
	CipherPass       string
	Type             string
	Target           string
	TargetTimeline   string
	TargetAction     string
	Standby          bool
	Progress         bool
	DBInclude        []string
	DBExclude        []string
	TablespaceMap    []string
	TablespaceMapAll string
	LinkMap          []string
	LinkAll          bool
}{}

// parseNameValuePairs splits a list of "name=value" flag occurrences (as
// --tablespace-map/--link-map accept, one per repeated flag) into a map,
// rejecting any entry missing the "=".
func parseNameValuePairs(option string, raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, errkind.New(errkind.OptionInvalidValueError, "--%s %q must be in name=value form", option, kv)
		}
		out[name] = value
	}
	return out, nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup set into pg1-path and write its recovery configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		if err := checkNotStopped(cmd, stanza); err != nil {
			return err
		}
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}

		recoveryType := restore.RecoveryType(resolveString(cmd, "type", restoreFlags.Type, "default"))
		pgVersion := 160000
		if ctl, err := pginterface.ReadControl(resolveString(cmd, "control-path", restoreFlags.ControlPath, global.PGData+"/global/pg_control")); err == nil {
			pgVersion = ctl.Version
		}

		tablespaceMap, err := parseNameValuePairs("tablespace-map", restoreFlags.TablespaceMap)
		if err != nil {
			return err
		}
		linkMap, err := parseNameValuePairs("link-map", restoreFlags.LinkMap)
		if err != nil {
			return err
		}

		opt := restore.RunOptions{
			Stanza:           stanza,
			Repo:             repo,
			PGData:           global.PGData,
			Set:              resolveString(cmd, "set", restoreFlags.Set, ""),
			Delta:            resolveBool(cmd, "delta", restoreFlags.Delta, false),
			Force:            resolveBool(cmd, "force", restoreFlags.Force, false),
			Preserve:         resolveBool(cmd, "preserve", restoreFlags.Preserve, false) || recoveryType == restore.TypePreserve,
			Workers:          resolveInt(cmd, "process-max", global.ProcessMax, 1),
			CipherPass:       resolveString(cmd, "cipher-pass", restoreFlags.CipherPass, ""),
			DBInclude:        restoreFlags.DBInclude,
			DBExclude:        restoreFlags.DBExclude,
			TablespaceMap:    tablespaceMap,
			TablespaceMapAll: resolveString(cmd, "tablespace-map-all", restoreFlags.TablespaceMapAll, ""),
			LinkMap:          linkMap,
			LinkAll:          resolveBool(cmd, "link-all", restoreFlags.LinkAll, false),
			PgVersion:        pgVersion,
			Recovery: restore.RecoveryOptions{
				Type:           recoveryType,
				Target:         resolveString(cmd, "target", restoreFlags.Target, ""),
				TargetTimeline: resolveString(cmd, "target-timeline", restoreFlags.TargetTimeline, ""),
				TargetAction:   resolveString(cmd, "target-action", restoreFlags.TargetAction, "pause"),
				ArchiveGetCmd:  argv0() + " archive-get --stanza " + stanza + " %f %p",
				Standby:        resolveBool(cmd, "standby", restoreFlags.Standby, false),
			},
			ShowProgress: resolveBool(cmd, "progress", restoreFlags.Progress, false),
		}
		m, err := restore.Run(cmd.Context(), opt)
		if err != nil {
			return err
		}
		cmd.Printf("restore complete: label=%s\n", m.Label)
		return nil
	},
}

func init() {
	f := restoreCmd.Flags()
	f.StringVar(&restoreFlags.Set, "set", "", "backup label to restore; empty restores the latest")
	f.BoolVar(&restoreFlags.Delta, "delta", false, "reuse matching files already present in pg1-path")
	f.BoolVar(&restoreFlags.Force, "force", false, "restore into a non-empty pg1-path without a PG_VERSION check")
	f.BoolVar(&restoreFlags.Preserve, "preserve", false, "leave any existing recovery configuration untouched")
	f.StringVar(&restoreFlags.ControlPath, "control-path", "", "path to pg_control (default <pg1-path>/global/pg_control)")
	f.StringVar(&restoreFlags.CipherPass, "cipher-pass", "", "repository passphrase; empty disables decryption")
	f.StringVar(&restoreFlags.Type, "type", "default", "default|immediate|name|xid|time|lsn|preserve")
	f.StringVar(&restoreFlags.Target, "target", "", "value for whichever recovery_target_* --type selects")
	f.StringVar(&restoreFlags.TargetTimeline, "target-timeline", "", "recovery_target_timeline")
	f.StringVar(&restoreFlags.TargetAction, "target-action", "pause", "recovery_target_action: pause|promote|shutdown")
	f.BoolVar(&restoreFlags.Standby, "standby", false, "write standby.signal instead of recovery.signal")
	f.BoolVar(&restoreFlags.Progress, "progress", false, "show a byte-progress bar while restoring files")
	f.StringSliceVar(&restoreFlags.DBInclude, "db-include", nil, "restore only the named databases, zero-filling the rest (repeatable)")
	f.StringSliceVar(&restoreFlags.DBExclude, "db-exclude", nil, "restore every database except the named ones, zero-filling those (repeatable)")
	f.StringArrayVar(&restoreFlags.TablespaceMap, "tablespace-map", nil, "name=path: restore tablespace name to path instead of its original location (repeatable)")
	f.StringVar(&restoreFlags.TablespaceMapAll, "tablespace-map-all", "", "restore every tablespace under path/<oid> instead of its original location")
	f.StringArrayVar(&restoreFlags.LinkMap, "link-map", nil, "name=path: restore a non-tablespace manifest link to path instead of its original destination (repeatable)")
	f.BoolVar(&restoreFlags.LinkAll, "link-all", false, "tolerate manifest links with no --link-map entry instead of erroring")
}
