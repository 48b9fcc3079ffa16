package pginterface

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WaitReplicationStarted waits until an application_name appears in
// pg_stat_replication or timeout, used before a standby backup to confirm
// the standby session under backup is actually streaming.
func WaitReplicationStarted(ctx context.Context, q queryer, appName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var exists bool
		err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_stat_replication WHERE application_name=$1)`, appName).Scan(&exists)
		if err != nil {
			return fmt.Errorf("query pg_stat_replication: %w", err)
		}
		if exists {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("replication did not start within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
}

// WaitReplicationReplay polls pg_last_wal_replay_lsn() until it reaches or
// passes target, used by standby backups to confirm the checkpoint the
// backup start LSN depends on has actually replayed (spec §4.5 Standby
// backups) before backup-stop is allowed to proceed.
func WaitReplicationReplay(ctx context.Context, q queryer, target LSN, pollEvery, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var lsnStr string
		if err := q.QueryRow(ctx, `SELECT pg_last_wal_replay_lsn()`).Scan(&lsnStr); err != nil {
			return fmt.Errorf("query pg_last_wal_replay_lsn: %w", err)
		}
		replayed, err := ParseLSN(lsnStr)
		if err != nil {
			return err
		}
		if !replayed.Less(target) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("standby did not replay past %s within %s", target, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}
