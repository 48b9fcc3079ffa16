// Package cli wires the cobra command tree spec §6 describes (archive-push,
// archive-get, stanza-create, stanza-upgrade, stanza-delete, backup,
// restore, verify, expire, info, repo-ls/get/put/rm, start, stop, server,
// server-ping) to internal/config's precedence resolver and to each
// domain package's Run entry point: one root command plus a subcommand
// per operation, each with its own package-level flag struct populated
// by cobra, and a PersistentPreRun that sets up logging before any RunE
// runs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/config"
	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/log"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/azblob"
	"github.com/pgrepo/pgrepo/internal/storage/gcs"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
	"github.com/pgrepo/pgrepo/internal/storage/s3"
	"github.com/pgrepo/pgrepo/internal/storage/sftp"
	"github.com/pgrepo/pgrepo/internal/ssh"
	"github.com/pgrepo/pgrepo/internal/util/signalctx"
)

// global holds the persistent flags every subcommand inherits. Per-command
// flags live on each subcommand file's package-level flag struct
// (infoFlags, stanzaFlags, ...); global and local
// values are merged through internal/config's precedence resolver inside
// each RunE, never here.
var global = &struct {
	ConfigFile string

	Stanza string

	RepoPath           string
	RepoType           string
	RepoS3Bucket       string
	RepoS3Endpoint     string
	RepoS3Region       string
	RepoS3Key          string
	RepoS3KeySecret    string
	RepoGCSBucket      string
	RepoAzureContainer string
	RepoAzureAccount   string
	RepoAzureKey       string
	RepoSFTPHost       string
	RepoSFTPUser       string
	RepoSFTPKey        string

	PGHost     string
	PGPort     int
	PGUser     string
	PGData     string
	PGDatabase string

	PG2Host     string
	PG2Port     int
	PG2User     string
	PG2Data     string
	PG2Database string

	LockPath string

	ProcessMax int

	DbTimeout       float64
	ProtocolTimeout float64

	LogLevelConsole string
	LogLevelFile    string
	LogSubprocess   bool
}{}

// fileOpts is the decoded --config-file layer, loaded once in
// PersistentPreRunE and consulted by every command's precedence
// resolution (command-line > environment > config file > default).
var fileOpts map[string]any

// resolvedProtocolTimeout is db-timeout/protocol-timeout after
// PersistentPreRunE's load-time reconciliation (spec §5, Cancellation &
// timeouts), consulted by dbTimeout/protocolTimeout instead of re-deriving
// the auto-fix on every call.
var resolvedDbTimeout, resolvedProtocolTimeout time.Duration

// RootCmd is the entry point invoked from cmd/pgrepo.
var RootCmd = &cobra.Command{
	Use:           "pgrepo",
	Short:         "Repository-backed PostgreSQL backup, restore, archive and verify engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		m, err := config.Load(global.ConfigFile)
		if err != nil {
			return err
		}
		fileOpts = m

		level := resolveString(cmd, "log-level-console", global.LogLevelConsole, "warn")
		log.Setup(level == "debug", level == "debug" || level == "info")
		slog.Debug("pgrepo starting", "command", cmd.Name())

		dbT := resolveFloatSeconds(cmd, "db-timeout", global.DbTimeout, 1800)
		protocolT := resolveFloatSeconds(cmd, "protocol-timeout", global.ProtocolTimeout, 1830)
		resolved, fixed := config.ReconcileTimeouts(dbT.Seconds(), protocolT.Seconds())
		resolvedDbTimeout = dbT
		resolvedProtocolTimeout = time.Duration(resolved * float64(time.Second))
		if fixed {
			slog.Warn("protocol-timeout must exceed db-timeout; auto-fixing", "db-timeout", dbT, "protocol-timeout", resolvedProtocolTimeout)
		}
		return nil
	},
}

// killChildrenGrace is how long a SIGTERM'd detached worker gets before
// Execute escalates to SIGKILL on process exit.
const killChildrenGrace = 5 * time.Second

// Execute parses flags and runs the matched subcommand under a
// signal-aware context: a SIGHUP, SIGINT, or SIGTERM cancels the context
// the running command holds (locks release through each command's own
// defer-based unlock once its ctx-aware work unwinds), terminates any
// still-running detached archive-push workers, logs the signal, and
// reports a TermError instead of whatever plain "context canceled" error
// the command itself returned (spec §5, termination on signal).
func Execute() error {
	ctx, cancel, sigCh := signalctx.WithSignals(context.Background())
	defer cancel()
	process.KillChildrenOnCancel(ctx, killChildrenGrace)

	done := make(chan error, 1)
	go func() { done <- RootCmd.ExecuteContext(ctx) }()

	select {
	case sig := <-sigCh:
		cancel()
		<-done // wait for the running command to unwind and release its locks
		slog.Warn("terminated on signal", "signal", sig)
		return errkind.New(errkind.TermError, "terminated by signal %s", sig)
	case err := <-done:
		return err
	}
}

func init() {
	f := RootCmd.PersistentFlags()
	f.StringVar(&global.ConfigFile, "config", "", "path to a YAML config file (lowest-precedence option layer)")
	f.StringVar(&global.Stanza, "stanza", "", "stanza name (required by every command but server/server-ping)")

	f.StringVar(&global.RepoPath, "repo1-path", "/var/lib/pgrepo", "repository base path/prefix")
	f.StringVar(&global.RepoType, "repo1-type", "posix", "repository backend: posix|sftp|s3|gcs|azure")
	f.StringVar(&global.RepoS3Bucket, "repo1-s3-bucket", "", "S3 bucket name")
	f.StringVar(&global.RepoS3Endpoint, "repo1-s3-endpoint", "", "S3-compatible endpoint override")
	f.StringVar(&global.RepoS3Region, "repo1-s3-region", "us-east-1", "S3 region")
	f.StringVar(&global.RepoS3Key, "repo1-s3-key", "", "S3 access key")
	f.StringVar(&global.RepoS3KeySecret, "repo1-s3-key-secret", "", "S3 secret key")
	f.StringVar(&global.RepoGCSBucket, "repo1-gcs-bucket", "", "GCS bucket name")
	f.StringVar(&global.RepoAzureContainer, "repo1-azure-container", "", "Azure Blob container name")
	f.StringVar(&global.RepoAzureAccount, "repo1-azure-account", "", "Azure storage account name")
	f.StringVar(&global.RepoAzureKey, "repo1-azure-key", "", "Azure storage account key")
	f.StringVar(&global.RepoSFTPHost, "repo1-sftp-host", "", "SFTP repository host")
	f.StringVar(&global.RepoSFTPUser, "repo1-sftp-user", "", "SFTP repository user")
	f.StringVar(&global.RepoSFTPKey, "repo1-sftp-key", "", "SFTP repository private key path")

	f.StringVar(&global.PGHost, "pg1-host", "", "PostgreSQL host (empty uses libpq env vars)")
	f.IntVar(&global.PGPort, "pg1-port", 5432, "PostgreSQL port")
	f.StringVar(&global.PGUser, "pg1-user", "", "PostgreSQL user")
	f.StringVar(&global.PGData, "pg1-path", "", "PGDATA path")
	f.StringVar(&global.PGDatabase, "pg1-database", "postgres", "database to connect to for control-plane statements")

	f.StringVar(&global.PG2Host, "pg2-host", "", "standby host, required by --backup-standby")
	f.IntVar(&global.PG2Port, "pg2-port", 5432, "standby port")
	f.StringVar(&global.PG2User, "pg2-user", "", "standby PostgreSQL user")
	f.StringVar(&global.PG2Data, "pg2-path", "", "standby PGDATA path, read locally to re-verify its timeline after replay")
	f.StringVar(&global.PG2Database, "pg2-database", "postgres", "database to connect to on the standby")

	f.StringVar(&global.LockPath, "lock-path", "/tmp/pgrepo", "directory holding lock and stop files")
	f.IntVar(&global.ProcessMax, "process-max", 1, "worker count for file dispatch operations")

	f.Float64Var(&global.DbTimeout, "db-timeout", 1800, "seconds to wait on a single database statement or connection")
	f.Float64Var(&global.ProtocolTimeout, "protocol-timeout", 1830, "seconds to wait on a local/remote protocol round trip; must exceed db-timeout or it is auto-fixed to db-timeout+30")

	f.StringVar(&global.LogLevelConsole, "log-level-console", "warn", "console log level: debug|info|warn")
	f.StringVar(&global.LogLevelFile, "log-level-file", "info", "file log level (reserved; console handler is authoritative today)")
	f.BoolVar(&global.LogSubprocess, "log-subprocess", false, "also log from re-exec'd async archive-push workers")

	RootCmd.AddCommand(archivePushCmd, archiveGetCmd)
	RootCmd.AddCommand(stanzaCreateCmd, stanzaUpgradeCmd, stanzaDeleteCmd)
	RootCmd.AddCommand(backupCmd, expireCmd)
	RootCmd.AddCommand(restoreCmd)
	RootCmd.AddCommand(verifyCmd)
	RootCmd.AddCommand(infoCmd)
	RootCmd.AddCommand(repoLsCmd, repoGetCmd, repoPutCmd, repoRmCmd)
	RootCmd.AddCommand(startCmd, stopCmd)
	RootCmd.AddCommand(serverCmd, serverPingCmd)
}

// resolveString applies command-line > environment > config-file >
// default precedence for option, given the flag's current value and
// whether cmd's flag set marks it as explicitly set.
func resolveString(cmd *cobra.Command, option, flagVal, def string) string {
	return config.StringOpt(option, flagVal, cmd.Flags().Changed(option), fileOpts, def)
}

func resolveInt(cmd *cobra.Command, option string, flagVal, def int) int {
	return config.IntOpt(option, flagVal, cmd.Flags().Changed(option), fileOpts, def)
}

func resolveBool(cmd *cobra.Command, option string, flagVal, def bool) bool {
	return config.BoolOpt(option, flagVal, cmd.Flags().Changed(option), fileOpts, def)
}

// requireStanza returns global.Stanza or a ParamRequiredError; every
// subcommand but server/server-ping needs exactly one stanza name.
func requireStanza() (string, error) {
	if global.Stanza == "" {
		return "", errkind.New(errkind.ParamRequiredError, "--stanza is required")
	}
	return global.Stanza, nil
}

// buildRepo opens the configured repository backend, generalizing the
// teacher's single rsync/ssh transport into the five backends spec §6
// lists under repo1-type.
func buildRepo(cmd *cobra.Command) (*storage.Repo, error) {
	repoType := resolveString(cmd, "repo1-type", global.RepoType, "posix")
	repoPath := resolveString(cmd, "repo1-path", global.RepoPath, "/var/lib/pgrepo")

	var driver storage.Driver
	switch repoType {
	case "posix":
		driver = posix.New()
	case "sftp":
		d, err := sftp.Dial(cmd.Context(), ssh.Config{
			User:    resolveString(cmd, "repo1-sftp-user", global.RepoSFTPUser, ""),
			Host:    resolveString(cmd, "repo1-sftp-host", global.RepoSFTPHost, ""),
			KeyPath: resolveString(cmd, "repo1-sftp-key", global.RepoSFTPKey, ""),
		})
		if err != nil {
			return nil, err
		}
		driver = d
	case "s3":
		d, err := s3.New(cmd.Context(), s3.Config{
			Bucket:    resolveString(cmd, "repo1-s3-bucket", global.RepoS3Bucket, ""),
			Region:    resolveString(cmd, "repo1-s3-region", global.RepoS3Region, "us-east-1"),
			Endpoint:  resolveString(cmd, "repo1-s3-endpoint", global.RepoS3Endpoint, ""),
			AccessKey: resolveString(cmd, "repo1-s3-key", global.RepoS3Key, ""),
			SecretKey: resolveString(cmd, "repo1-s3-key-secret", global.RepoS3KeySecret, ""),
		})
		if err != nil {
			return nil, err
		}
		driver = d
	case "gcs":
		d, err := gcs.New(cmd.Context(), resolveString(cmd, "repo1-gcs-bucket", global.RepoGCSBucket, ""))
		if err != nil {
			return nil, err
		}
		driver = d
	case "azure":
		account := resolveString(cmd, "repo1-azure-account", global.RepoAzureAccount, "")
		d, err := azblob.NewFromSharedKey(
			fmt.Sprintf("https://%s.blob.core.windows.net", account),
			resolveString(cmd, "repo1-azure-container", global.RepoAzureContainer, ""),
			account,
			resolveString(cmd, "repo1-azure-key", global.RepoAzureKey, ""),
		)
		if err != nil {
			return nil, err
		}
		driver = d
	default:
		return nil, errkind.New(errkind.OptionInvalidValueError, "unknown repo1-type %q", repoType)
	}

	return storage.NewRepo(driver, repoPath), nil
}

func lockPath(cmd *cobra.Command) string {
	return resolveString(cmd, "lock-path", global.LockPath, "/tmp/pgrepo")
}

// dbTimeout and protocolTimeout return the load-time-reconciled durations
// PersistentPreRunE computed; call sites that open a database connection or
// run the full backup/restore protocol bound their context with these.
func dbTimeout() time.Duration {
	return resolvedDbTimeout
}

func protocolTimeout() time.Duration {
	return resolvedProtocolTimeout
}

// checkNotStopped consults the stop-file mechanism before any command
// acquires a lock, per spec §6's start/stop commands.
func checkNotStopped(cmd *cobra.Command, stanza string) error {
	return lock.CheckStop(lockPath(cmd), stanza)
}

// argv0 is the path archive-push re-execs into a detached worker process
// for the async protocol (internal/archive.Config.Argv0).
func argv0() string {
	if p, err := os.Executable(); err == nil {
		return p
	}
	return os.Args[0]
}
