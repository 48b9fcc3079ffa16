package pginterface

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect establishes a pgx pool. If dsn is empty it is built from
// libpq-compatible environment variables (PGHOST, PGPORT, PGUSER,
// PGPASSWORD, PGDATABASE), mirroring the teacher's connection helper.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	if dsn == "" {
		host := envOr("PGHOST", "localhost")
		port := envOr("PGPORT", "5432")
		user := envOr("PGUSER", os.Getenv("USER"))
		db := envOr("PGDATABASE", "postgres")
		dsn = fmt.Sprintf("postgres://%s@%s:%s/%s", user, host, port, db)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Session wraps a pgx pool with the fixed control-plane statement set from
// spec §4.5 ("no query execution beyond the fixed set of control-plane
// statements", spec §1 Non-goals).
type Session struct {
	Pool *pgxpool.Pool
}

// advisoryLockKey is the fixed literal key used to detect a concurrent
// backup tool run against the same cluster (spec §4.5 step 1). Every
// invocation of this tool contends on the same key so two overlapping
// runs against one cluster never both proceed.
const advisoryLockKey int64 = 0x70677265 // ASCII "pgre"

// Prepare sets the session GUCs required before backup start (spec §4.5
// step 3): search_path, client_encoding, application_name, and disables
// parallel workers so pg_start_backup's snapshot can't race a parallel
// worker.
func (s *Session) Prepare(ctx context.Context, appName string) error {
	stmts := []string{
		"SET search_path = pg_catalog",
		"SET client_encoding = 'UTF8'",
		fmt.Sprintf("SET application_name = %s", quoteLiteral(appName)),
		"SET max_parallel_workers_per_gather = 0",
	}
	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("session setup %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

// AdvisoryLockAcquire attempts the cluster-wide advisory lock; false means
// a concurrent backup tool run is in progress (spec §4.5 step 1).
func (s *Session) AdvisoryLockAcquire(ctx context.Context) (bool, error) {
	var ok bool
	if err := s.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&ok); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	return ok, nil
}

// AdvisoryLockRelease releases the lock taken by AdvisoryLockAcquire.
func (s *Session) AdvisoryLockRelease(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockKey)
	return err
}

// ServerVersionNum returns the integer server_version_num (e.g. 160003).
func (s *Session) ServerVersionNum(ctx context.Context) (int, error) {
	var v int
	if err := s.Pool.QueryRow(ctx, "SHOW server_version_num").Scan(&v); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// StopRunningBackup calls the legacy pg_stop_backup() with no arguments,
// used when stop-auto detects a prior non-exclusive backup in progress on
// pre-9.6 clusters (spec §4.5 step 2).
func (s *Session) StopRunningBackup(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, "SELECT pg_stop_backup()")
	return err
}

// BackupStart calls the version-appropriate start-backup function (spec
// §4.5 step 4): pg_backup_start on PG >= 15, pg_start_backup before that.
func (s *Session) BackupStart(ctx context.Context, label string, fast bool) (BackupStartResult, error) {
	verNum, err := s.ServerVersionNum(ctx)
	if err != nil {
		return BackupStartResult{}, err
	}

	var lsnStr string
	if verNum >= 150000 {
		if err := s.Pool.QueryRow(ctx, "SELECT pg_backup_start($1, $2)", label, fast).Scan(&lsnStr); err != nil {
			return BackupStartResult{}, fmt.Errorf("pg_backup_start: %w", err)
		}
	} else {
		if err := s.Pool.QueryRow(ctx, "SELECT lsn FROM pg_start_backup($1, $2, false)", label, fast).Scan(&lsnStr); err != nil {
			return BackupStartResult{}, fmt.Errorf("pg_start_backup: %w", err)
		}
	}
	lsn, err := ParseLSN(lsnStr)
	if err != nil {
		return BackupStartResult{}, err
	}

	var walFile string
	if err := s.Pool.QueryRow(ctx, "SELECT pg_walfile_name($1)", lsnStr).Scan(&walFile); err != nil {
		return BackupStartResult{}, fmt.Errorf("pg_walfile_name: %w", err)
	}

	return BackupStartResult{LSN: lsn, WalFileName: walFile}, nil
}

// BackupStop calls the version-appropriate stop-backup function (spec
// §4.5 Backup-stop protocol), returning the backup_label/tablespace_map
// payloads the restore engine needs to materialize verbatim.
func (s *Session) BackupStop(ctx context.Context) (BackupStopResult, error) {
	verNum, err := s.ServerVersionNum(ctx)
	if err != nil {
		return BackupStopResult{}, err
	}

	var lsnStr, labelB64, mapB64 string
	if verNum >= 150000 {
		const q = `SELECT lsn,
			translate(encode(labelfile::bytea,  'base64'), E'\n', ''),
			translate(encode(spcmapfile::bytea, 'base64'), E'\n', '')
			FROM pg_backup_stop(true)`
		if err := s.Pool.QueryRow(ctx, q).Scan(&lsnStr, &labelB64, &mapB64); err != nil {
			return BackupStopResult{}, fmt.Errorf("pg_backup_stop: %w", err)
		}
	} else {
		const q = `SELECT lsn,
			translate(encode(labelfile::bytea,  'base64'), E'\n', ''),
			translate(encode(spcmapfile::bytea, 'base64'), E'\n', '')
			FROM pg_stop_backup(false, true)`
		if err := s.Pool.QueryRow(ctx, q).Scan(&lsnStr, &labelB64, &mapB64); err != nil {
			return BackupStopResult{}, fmt.Errorf("pg_stop_backup: %w", err)
		}
	}

	lsn, err := ParseLSN(lsnStr)
	if err != nil {
		return BackupStopResult{}, err
	}
	var walFile string
	if err := s.Pool.QueryRow(ctx, "SELECT pg_walfile_name($1)", lsnStr).Scan(&walFile); err != nil {
		return BackupStopResult{}, fmt.Errorf("pg_walfile_name: %w", err)
	}

	label, err := base64.StdEncoding.DecodeString(labelB64)
	if err != nil {
		return BackupStopResult{}, fmt.Errorf("decode backup_label: %w", err)
	}
	var tsMap []byte
	if mapB64 != "" {
		tsMap, err = base64.StdEncoding.DecodeString(mapB64)
		if err != nil {
			return BackupStopResult{}, fmt.Errorf("decode tablespace_map: %w", err)
		}
	}

	return BackupStopResult{
		LSN:             lsn,
		WalFileName:     walFile,
		BackupLabelFile: label,
		TablespaceMap:   tsMap,
	}, nil
}

// SwitchWal forces a WAL segment switch (spec §4.5 step 6).
func (s *Session) SwitchWal(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, "SELECT pg_switch_wal()")
	return err
}

// CurrentWalFileName returns the segment name the server is currently
// writing, via pg_current_wal_insert_lsn/pg_walfile_name.
func (s *Session) CurrentWalFileName(ctx context.Context) (string, error) {
	var name string
	const q = `SELECT pg_walfile_name(pg_current_wal_insert_lsn())`
	if err := s.Pool.QueryRow(ctx, q).Scan(&name); err != nil {
		return "", fmt.Errorf("current wal file: %w", err)
	}
	return name, nil
}

// CurrentTimeline returns pg_control_checkpoint().timeline_id.
func (s *Session) CurrentTimeline(ctx context.Context) (uint32, error) {
	var tli uint32
	if err := s.Pool.QueryRow(ctx, "SELECT timeline_id FROM pg_control_checkpoint()").Scan(&tli); err != nil {
		return 0, fmt.Errorf("current timeline: %w", err)
	}
	return tli, nil
}

// LastWalReplayLSN returns pg_last_wal_replay_lsn() on a standby, used by
// the standby-replay wait loop (spec §4.5 Standby backups).
func (s *Session) LastWalReplayLSN(ctx context.Context) (LSN, error) {
	var lsnStr string
	if err := s.Pool.QueryRow(ctx, "SELECT pg_last_wal_replay_lsn()").Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("last wal replay lsn: %w", err)
	}
	return ParseLSN(lsnStr)
}

// ListTablespaces returns OID/name/location for each user tablespace
// (excluding pg_default/pg_global), used by the backup engine to build
// the manifest's tablespace targets.
func ListTablespaces(ctx context.Context, pool *pgxpool.Pool) ([]Tablespace, error) {
	const q = `SELECT oid, spcname, pg_tablespace_location(oid)
              FROM pg_tablespace
              WHERE spcname NOT IN ('pg_default','pg_global')`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Tablespace
	for rows.Next() {
		var t Tablespace
		if err := rows.Scan(&t.Oid, &t.Name, &t.Location); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// PrettyBytes converts bytes to human-readable units similar to
// pg_size_pretty.
func PrettyBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d bytes", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(b) / float64(div)
	suffix := []string{"kB", "MB", "GB", "TB", "PB", "EB"}[exp]
	return fmt.Sprintf("%.2f %s", value, suffix)
}
