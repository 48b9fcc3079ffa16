// Package backup implements the backup engine: stanza lifecycle, the
// backup start/stop control-plane protocol, manifest construction, file
// dispatch, and expiry (spec §4.5).
package backup

import (
	"context"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/pginterface"
)

// StartOptions configures the backup-start protocol (spec §4.5).
type StartOptions struct {
	Label        string
	Fast         bool
	StopAuto     bool
	ArchiveCheck bool
	AppName      string
	ControlPath  string // path to $PGDATA/global/pg_control
}

// StartResult is everything the engine needs once backup-start succeeds.
type StartResult struct {
	LSN         pginterface.LSN
	WalFileName string
	Timeline    uint32
	Control     *pginterface.PgControl
}

// Start executes the 7-step backup-start protocol (spec §4.5).
func Start(ctx context.Context, s *pginterface.Session, opt StartOptions) (*StartResult, error) {
	// 1. cluster-wide advisory lock.
	ok, err := s.AdvisoryLockAcquire(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbQueryError, err, "advisory lock")
	}
	if !ok {
		return nil, errkind.New(errkind.LockAcquireError,
			"a concurrent backup tool run holds the cluster advisory lock")
	}
	defer s.AdvisoryLockRelease(ctx)

	// 2. stop-auto: clear a prior non-exclusive backup on pre-9.6 clusters.
	verNum, err := s.ServerVersionNum(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbQueryError, err, "server version")
	}
	if opt.StopAuto && verNum < 90600 {
		_ = s.StopRunningBackup(ctx) // best-effort; absence of a prior backup is not an error
	}

	// 3. session GUCs.
	if err := s.Prepare(ctx, opt.AppName); err != nil {
		return nil, errkind.Wrap(errkind.DbQueryError, err, "prepare session")
	}

	// Capture the pre-start WAL segment for step 6's archive-check.
	var preSegment string
	if opt.ArchiveCheck {
		preSegment, err = s.CurrentWalFileName(ctx)
		if err != nil {
			return nil, errkind.Wrap(errkind.DbQueryError, err, "pre-start wal segment")
		}
	}

	// 4. version-appropriate start-backup call.
	started, err := s.BackupStart(ctx, opt.Label, opt.Fast)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbQueryError, err, "backup start")
	}

	// 5. re-read pg_control; its checkpoint must not precede the start LSN.
	ctl, err := pginterface.ReadControl(opt.ControlPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileReadError, err, "read pg_control")
	}
	if ctl.Checkpoint.Less(started.LSN) {
		return nil, errkind.New(errkind.DbMismatchError,
			"pg_control checkpoint %s precedes backup start lsn %s", ctl.Checkpoint, started.LSN)
	}

	// 6. archive-check: force a WAL switch if start didn't advance the segment.
	if opt.ArchiveCheck && verNum >= 90500 {
		if preSegment != "" && preSegment == started.WalFileName {
			if err := s.SwitchWal(ctx); err != nil {
				return nil, errkind.Wrap(errkind.DbQueryError, err, "forced wal switch")
			}
		}
	}

	// 7. assert the start segment's embedded timeline matches pg_control.
	startSeg, err := pginterface.ParseWalSegment(started.WalFileName)
	if err != nil {
		return nil, errkind.Wrap(errkind.FormatError, err, "parse start wal segment")
	}
	if startSeg.Timeline != ctl.TimelineID && ctl.TimelineID != 0 {
		return nil, errkind.New(errkind.DbMismatchError,
			"start segment timeline %d does not match pg_control timeline %d", startSeg.Timeline, ctl.TimelineID)
	}

	return &StartResult{LSN: started.LSN, WalFileName: started.WalFileName, Timeline: startSeg.Timeline, Control: ctl}, nil
}

// StopResult carries the stop LSN/segment and the verbatim backup_label /
// tablespace_map payloads the restore engine needs (spec §4.5 Backup-stop).
type StopResult struct {
	LSN             pginterface.LSN
	WalFileName     string
	BackupLabelFile []byte
	TablespaceMap   []byte
}

// Stop executes the backup-stop protocol.
func Stop(ctx context.Context, s *pginterface.Session) (*StopResult, error) {
	res, err := s.BackupStop(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbQueryError, err, "backup stop")
	}
	return &StopResult{
		LSN:             res.LSN,
		WalFileName:     res.WalFileName,
		BackupLabelFile: res.BackupLabelFile,
		TablespaceMap:   res.TablespaceMap,
	}, nil
}

// StandbyOptions configures the replay-wait and timeline check a standby
// backup runs between backup-start and file dispatch (spec §4.5 Standby
// backups).
type StandbyOptions struct {
	Session     *pginterface.Session // connected to the standby, not the primary
	ControlPath string               // standby's own pg_control, read locally after replay
	PollEvery   time.Duration
	Timeout     time.Duration
}

// WaitStandbyReplay polls pg_last_wal_replay_lsn on a standby until it
// passes target, resetting its own progress tracking whenever replay
// regresses due to a timeline switch (spec §4.5 Standby backups).
func WaitStandbyReplay(ctx context.Context, s *pginterface.Session, target pginterface.LSN, pollEvery, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var best pginterface.LSN
	for {
		cur, err := s.LastWalReplayLSN(ctx)
		if err != nil {
			return errkind.Wrap(errkind.DbQueryError, err, "poll replay lsn")
		}
		if cur < best {
			best = 0 // timeline switch or restart reset the position; start over
		}
		if cur >= best {
			best = cur
		}
		if !best.Less(target) {
			return nil
		}
		if time.Now().After(deadline) {
			return errkind.New(errkind.TimeoutError,
				"standby did not replay past %s within %s (reached %s)", target, timeout, best)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// VerifyStandbyTimeline re-reads pg_control after replay and checks the
// timeline against the primary's recorded value (spec §4.5, "A pg_control
// re-read after replay verifies the timeline matches the primary").
func VerifyStandbyTimeline(controlPath string, primaryTimeline uint32) error {
	ctl, err := pginterface.ReadControl(controlPath)
	if err != nil {
		return errkind.Wrap(errkind.FileReadError, err, "read standby pg_control")
	}
	if ctl.TimelineID != primaryTimeline {
		return errkind.New(errkind.DbMismatchError,
			"standby timeline %d does not match primary timeline %d", ctl.TimelineID, primaryTimeline)
	}
	return nil
}
