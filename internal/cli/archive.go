package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/archive"
	"github.com/pgrepo/pgrepo/internal/config"
	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/storage"
)

var archiveFlags = &struct {
	Async          bool
	QueueMax       int64
	ArchiveTimeout float64
	CompressType   string
	CompressLevel  int
	CipherPass     string
	SpoolPath      string
}{}

var archivePushCmd = &cobra.Command{
	Use:   "archive-push <wal-segment-path>",
	Short: "Push one WAL segment (or history/backup-label file) into the repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		if err := checkNotStopped(cmd, stanza); err != nil {
			return err
		}
		cfg, err := buildArchiveConfig(cmd, stanza)
		if err != nil {
			return err
		}
		return archive.Push(cmd.Context(), cfg, args[0])
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "archive-get <wal-segment-name> <dest-path>",
	Short: "Fetch one WAL segment from the repository into dest-path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		cfg, err := buildArchiveConfig(cmd, stanza)
		if err != nil {
			return err
		}
		ok, err := archive.Get(cmd.Context(), cfg, args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			// A confirmed-absent segment is not a failure (spec §4.4.2): it
			// is reported on stderr only, and the command exits 0 just as
			// it does when the segment is found.
			cmd.PrintErrln("archive-get: segment not found")
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{archivePushCmd, archiveGetCmd} {
		f := cmd.Flags()
		f.BoolVar(&archiveFlags.Async, "archive-async", false, "use the spool-then-dispatch async push/get protocol")
		f.Int64Var(&archiveFlags.QueueMax, "archive-queue-max", 1<<30, "async queue size cap in bytes")
		f.Float64Var(&archiveFlags.ArchiveTimeout, "archive-timeout", 60, "seconds to wait for an async worker result")
		f.StringVar(&archiveFlags.CompressType, "compress-type", "gzip", "none|gzip|lz4|zst")
		f.IntVar(&archiveFlags.CompressLevel, "compress-level", 0, "compression level (0 selects the codec default)")
		f.StringVar(&archiveFlags.CipherPass, "cipher-pass", "", "repository passphrase; empty disables encryption for this call")
		f.StringVar(&archiveFlags.SpoolPath, "spool-path", "/var/spool/pgrepo", "directory for the async push/get spool")
	}
}

// buildArchiveConfig resolves everything archive.Push/Get need, including
// the target cluster's current archive-id and WAL segment size read back
// from archive.info (spec §4.4, "segments are namespaced under the
// history's current ArchiveId").
func buildArchiveConfig(cmd *cobra.Command, stanza string) (archive.Config, error) {
	repo, err := buildRepo(cmd)
	if err != nil {
		return archive.Config{}, err
	}
	ai, err := info.LoadArchiveFrom(repo.Driver, repo.ArchiveInfoPath(stanza, false))
	if err != nil {
		return archive.Config{}, err
	}
	cur, ok := ai.History.Current()
	if !ok {
		return archive.Config{}, errkind.New(errkind.RepoInvalidError, "stanza %s has no PostgreSQL version history", stanza)
	}

	compressType := compress.Type(resolveString(cmd, "compress-type", archiveFlags.CompressType, "gzip"))
	return archive.Config{
		Stanza:         stanza,
		ArchiveID:      cur.ArchiveID(),
		WalSegmentSize: uint32(cur.WalSegmentSize),
		PgVersionNum:   cur.VersionNum(),
		SpoolRoot:      resolveString(cmd, "spool-path", archiveFlags.SpoolPath, "/var/spool/pgrepo"),
		LockPath:       lockPath(cmd),
		Repos:          []*storage.Repo{repo},
		Async:          resolveBool(cmd, "archive-async", archiveFlags.Async, false),
		QueueMaxBytes:  archiveFlags.QueueMax,
		ArchiveTimeout: resolveFloatSeconds(cmd, "archive-timeout", archiveFlags.ArchiveTimeout, 60),
		CompressType:   compressType,
		CompressLevel:  resolveInt(cmd, "compress-level", archiveFlags.CompressLevel, 0),
		CipherPass:     resolveString(cmd, "cipher-pass", archiveFlags.CipherPass, ""),
		Argv0:          argv0(),
	}, nil
}

func resolveFloatSeconds(cmd *cobra.Command, option string, flagVal float64, def float64) time.Duration {
	v := config.FloatOpt(option, flagVal, cmd.Flags().Changed(option), fileOpts, def)
	return time.Duration(v * float64(time.Second))
}
