package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/backup"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

var backupFlags = &struct {
	Type             string
	ControlPath      string
	Fast             bool
	CompressType     string
	CompressLevel    int
	CipherPass       string
	CheckPages       bool
	NoExpire         bool
	RetentionFull    int
	RetentionDiff    int
	RetentionArchive int
	Progress         bool
	Standby          bool
	StandbyTimeout   float64
	Bundle           bool
	BundleSize       int64
}{}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a full, differential, or incremental backup",
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
		if _, err := pginterface.ReadControl(resolveString(cmd, "control-path", backupFlags.ControlPath, global.PGData+"/global/pg_control")); err != nil {
			return err
		}
		connCtx, cancelConn := context.WithTimeout(cmd.Context(), dbTimeout())
		defer cancelConn()
		pool, err := pginterface.Connect(connCtx, dsn(cmd), 2)
		if err != nil {
			return err
		}
		defer pool.Close()
		session := &pginterface.Session{Pool: pool}
		if err := session.Prepare(connCtx, "pgrepo backup"); err != nil {
			return err
		}
		tablespaces, err := pginterface.ListTablespaces(connCtx, pool)
		if err != nil {
			return err
		}

		standby := resolveBool(cmd, "backup-standby", backupFlags.Standby, false)
		var standbyCheck backup.StandbyOptions
		if standby {
			standbyPool, err := pginterface.Connect(connCtx, standbyDSN(cmd), 1)
			if err != nil {
				return err
			}
			defer standbyPool.Close()
			standbyCheck = backup.StandbyOptions{
				Session:     &pginterface.Session{Pool: standbyPool},
				ControlPath: resolveString(cmd, "pg2-path", global.PG2Data, "") + "/global/pg_control",
				PollEvery:   time.Second,
				Timeout:     resolveFloatSeconds(cmd, "backup-standby-timeout", backupFlags.StandbyTimeout, 300),
			}
		}

		opt := backup.RunOptions{
			Stanza:        stanza,
			Type:          info.BackupType(resolveString(cmd, "type", backupFlags.Type, "full")),
			Repo:          repo,
			Session:       session,
			ControlPath:   resolveString(cmd, "control-path", backupFlags.ControlPath, global.PGData+"/global/pg_control"),
			PgData:        global.PGData,
			Tablespaces:   tablespaces,
			LockPath:      lockPath(cmd),
			Workers:       resolveInt(cmd, "process-max", global.ProcessMax, 1),
			CompressType:  compress.Type(resolveString(cmd, "compress-type", backupFlags.CompressType, "gzip")),
			CompressLevel: resolveInt(cmd, "compress-level", backupFlags.CompressLevel, 0),
			CipherPass:    resolveString(cmd, "cipher-pass", backupFlags.CipherPass, ""),
			CheckPages:    resolveBool(cmd, "checksum-page", backupFlags.CheckPages, false),
			Start: backup.StartOptions{
				Fast:         resolveBool(cmd, "fast", backupFlags.Fast, false),
				StopAuto:     true,
				ArchiveCheck: true,
				AppName:      "pgrepo backup",
				ControlPath:  resolveString(cmd, "control-path", backupFlags.ControlPath, global.PGData+"/global/pg_control"),
			},
			Retention: backup.RetentionOptions{
				RetentionFull:    resolveInt(cmd, "retention-full", backupFlags.RetentionFull, 0),
				RetentionDiff:    resolveInt(cmd, "retention-diff", backupFlags.RetentionDiff, 0),
				RetentionArchive: resolveInt(cmd, "retention-archive", backupFlags.RetentionArchive, 0),
			},
			NoExpire:        resolveBool(cmd, "no-expire", backupFlags.NoExpire, false),
			ShowProgress:    resolveBool(cmd, "progress", backupFlags.Progress, false),
			Standby:         standby,
			StandbyCheck:    standbyCheck,
			Bundle:          resolveBool(cmd, "bundle", backupFlags.Bundle, false),
			BundleSizeLimit: backupFlags.BundleSize,
			ProtocolTimeout: protocolTimeout(),
			Now:             time.Now(),
		}
		m, err := backup.Run(cmd.Context(), opt)
		if err != nil {
			return err
		}
		cmd.Printf("backup complete: label=%s type=%s\n", m.Label, m.Type)
		return nil
	},
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupFlags.Type, "type", "full", "full|diff|incr")
	f.StringVar(&backupFlags.ControlPath, "control-path", "", "path to pg_control (default <pg1-path>/global/pg_control)")
	f.BoolVar(&backupFlags.Fast, "fast", false, "skip the backup-start checkpoint throttle")
	f.StringVar(&backupFlags.CompressType, "compress-type", "gzip", "none|gzip|lz4|zst")
	f.IntVar(&backupFlags.CompressLevel, "compress-level", 0, "compression level (0 selects the codec default)")
	f.StringVar(&backupFlags.CipherPass, "cipher-pass", "", "repository passphrase; empty disables encryption")
	f.BoolVar(&backupFlags.CheckPages, "checksum-page", false, "verify data page checksums while copying")
	f.BoolVar(&backupFlags.NoExpire, "no-expire", false, "skip the retention pass after a successful backup")
	f.IntVar(&backupFlags.RetentionFull, "retention-full", 0, "full backups to keep (0 keeps all)")
	f.IntVar(&backupFlags.RetentionDiff, "retention-diff", 0, "differentials to keep per retained full (0 keeps all)")
	f.IntVar(&backupFlags.RetentionArchive, "retention-archive", 0, "fulls whose WAL range stays archived (0 keeps all)")
	f.BoolVar(&backupFlags.Progress, "progress", false, "show a byte-progress bar while copying files")
	f.BoolVar(&backupFlags.Standby, "backup-standby", false, "wait for the standby named by pg2-* to replay past the backup start lsn and verify its timeline before copying files")
	f.Float64Var(&backupFlags.StandbyTimeout, "backup-standby-timeout", 300, "seconds to wait for --backup-standby's replay check")
	f.BoolVar(&backupFlags.Bundle, "bundle", false, "pack small files into shared repo objects instead of one object per file")
	f.Int64Var(&backupFlags.BundleSize, "bundle-size", 20<<20, "largest file size eligible for --bundle packing, in bytes")
}

func dsn(cmd *cobra.Command) string {
	host := resolveString(cmd, "pg1-host", global.PGHost, "")
	if host == "" {
		return ""
	}
	user := resolveString(cmd, "pg1-user", global.PGUser, "")
	port := resolveInt(cmd, "pg1-port", global.PGPort, 5432)
	database := resolveString(cmd, "pg1-database", global.PGDatabase, "postgres")
	return "postgres://" + user + "@" + host + ":" + strconv.Itoa(port) + "/" + database
}

func standbyDSN(cmd *cobra.Command) string {
	host := resolveString(cmd, "pg2-host", global.PG2Host, "")
	if host == "" {
		return ""
	}
	user := resolveString(cmd, "pg2-user", global.PG2User, "")
	port := resolveInt(cmd, "pg2-port", global.PG2Port, 5432)
	database := resolveString(cmd, "pg2-database", global.PG2Database, "postgres")
	return "postgres://" + user + "@" + host + ":" + strconv.Itoa(port) + "/" + database
}
