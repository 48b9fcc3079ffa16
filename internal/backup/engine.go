package backup

import (
	"context"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/filter/compress"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/lock"
	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
	"github.com/pgrepo/pgrepo/internal/storage/posix"
	"github.com/pgrepo/pgrepo/internal/util/disk"
)

// RunOptions configures one end-to-end backup run (spec §4.5).
type RunOptions struct {
	Stanza          string
	Type            info.BackupType
	Repo            *storage.Repo
	Session         *pginterface.Session
	ControlPath     string
	PgData          string
	Tablespaces     []pginterface.Tablespace
	LockPath        string
	Workers         int
	CompressType    compress.Type
	CompressLevel   int
	CipherPass      string
	CheckPages      bool
	Bundle          bool  // pack small files into shared repo objects (--bundle)
	BundleSizeLimit int64 // --bundle-size
	Start           StartOptions
	Standby         bool // run the standby replay-wait and timeline check before dispatch
	StandbyCheck    StandbyOptions
	ProtocolTimeout time.Duration // bounds the backup-start/backup-stop control statements; zero means no added deadline
	Retention       RetentionOptions
	NoExpire        bool
	ShowProgress    bool
	Now             time.Time // injected so the label timestamp is reproducible in tests
}

// Run executes stanza-backup start-to-finish: acquires the backup lock,
// runs the start protocol, builds and dedups the manifest, dispatches the
// file copy, runs the stop protocol, persists the manifest and
// backup.info entry, and finally applies retention (spec §4.5).
func Run(ctx context.Context, opt RunOptions) (*info.Manifest, error) {
	fl := lock.New(opt.LockPath, opt.Stanza, lock.Backup)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkind.New(errkind.LockAcquireError, "another backup/restore/verify operation is already running for stanza %s", opt.Stanza)
	}
	defer fl.Unlock()

	backupPath := opt.Repo.BackupInfoPath(opt.Stanza, false)
	bi, err := info.LoadInfoFrom(opt.Repo.Driver, backupPath)
	if err != nil {
		return nil, err
	}

	var priorLabel, fullLabel string
	var priorFiles map[string]info.FileEntry
	if opt.Type != info.BackupFull {
		latest, ok := bi.Latest()
		if !ok {
			return nil, errkind.New(errkind.BackupSetInvalidError, "no prior backup exists for a %s backup", opt.Type)
		}
		priorLabel = latest.Label
		fullLabel = ancestorFull(bi, latest)
		if fullLabel == "" {
			return nil, errkind.New(errkind.BackupSetInvalidError, "prior backup %s has no full ancestor", priorLabel)
		}
		priorManifest, err := info.LoadManifestFrom(opt.Repo.Driver, opt.Repo.ManifestPath(opt.Stanza, priorLabel, false))
		if err != nil {
			return nil, err
		}
		priorFiles = make(map[string]info.FileEntry, len(priorManifest.Files))
		for _, f := range priorManifest.Files {
			priorFiles[f.Name] = f
		}
	}

	label := backupLabel(opt.Now, opt.Type, fullLabel)
	opt.Start.Label = label
	startCtx, cancelStart := withProtocolTimeout(ctx, opt.ProtocolTimeout)
	started, err := Start(startCtx, opt.Session, opt.Start)
	cancelStart()
	if err != nil {
		return nil, err
	}

	if opt.Standby {
		if err := WaitStandbyReplay(ctx, opt.StandbyCheck.Session, started.LSN, opt.StandbyCheck.PollEvery, opt.StandbyCheck.Timeout); err != nil {
			return nil, err
		}
		if err := VerifyStandbyTimeline(opt.StandbyCheck.ControlPath, started.Timeline); err != nil {
			return nil, err
		}
	}

	m, err := BuildManifest(opt.PgData, opt.Tablespaces)
	if err != nil {
		return nil, err
	}
	m.Label = label
	m.Type = opt.Type
	m.Prior = priorLabel
	cur, _ := bi.History.Current()
	m.PgID = cur.ArchiveID()
	m.TimestampStrt = opt.Now
	m.WalStart = started.WalFileName
	m.OptionCompress = string(opt.CompressType)
	m.OptionOnline = true
	if err := m.Validate(); err != nil {
		return nil, err
	}

	jobs := BuildJobs(m)
	buckets := process.Distribute(jobs, opt.Workers)
	if _, ok := opt.Repo.Driver.(*posix.Driver); ok {
		need := uint64(process.TotalBytes(buckets))
		if err := disk.EnsureSpace(map[string]uint64{opt.Repo.Base: need}); err != nil {
			return nil, errkind.Wrap(errkind.DiskSpaceError, err, "preflight space check for repository %s", opt.Repo.Base)
		}
	}
	progress := process.NewProgress(opt.ShowProgress, label, process.TotalBytes(buckets))
	results, err := Dispatch(ctx, DispatchOptions{
		Targets: m.Targets, Repo: opt.Repo, Stanza: opt.Stanza, Label: label,
		Workers: opt.Workers, CompressType: opt.CompressType, CompressLevel: opt.CompressLevel,
		CipherPass: opt.CipherPass, PriorLabel: priorLabel, PriorFiles: priorFiles, CheckPages: opt.CheckPages,
		Bundle: opt.Bundle, BundleSizeLimit: opt.BundleSizeLimit,
		Progress: progress,
	}, buckets)
	if err != nil {
		return nil, err
	}
	applyResults(m, results, priorLabel)

	stopCtx, cancelStop := withProtocolTimeout(ctx, opt.ProtocolTimeout)
	stopped, err := Stop(stopCtx, opt.Session)
	cancelStop()
	if err != nil {
		return nil, err
	}
	m.WalStop = stopped.WalFileName
	m.Timestamp = opt.Now

	if err := m.SaveTo(opt.Repo.Driver, opt.Repo.ManifestPath(opt.Stanza, label, false)); err != nil {
		return nil, err
	}

	bi.Add(info.Backup{
		Label: label, Type: opt.Type, Prior: priorLabel, ArchiveIDStr: m.PgID,
		Timestamp: m.Timestamp, TimestampStrt: opt.Now, LsnStart: started.LSN.String(), LsnStop: stopped.LSN.String(),
		WalStart: m.WalStart, WalStop: m.WalStop, SizeDB: totalSize(m), SizeRepo: totalRepoSize(m), Online: true,
	})
	if err := bi.SaveTo(opt.Repo.Driver, backupPath); err != nil {
		return nil, err
	}

	if !opt.NoExpire {
		if _, err := Expire(ctx, opt.Repo, opt.Stanza, opt.Retention); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// backupLabel renders a label matching spec §3's
// ^[0-9]{8}-[0-9]{6}F(_[0-9]{8}-[0-9]{6}(D|I))?$: a full backup's own
// timestamp, or the referenced full's timestamp plus this backup's own
// diff/incr suffix.
func backupLabel(now time.Time, t info.BackupType, fullLabel string) string {
	ts := now.UTC().Format("20060102-150405")
	switch t {
	case info.BackupDiff:
		return fullLabel + "_" + ts + "D"
	case info.BackupIncr:
		return fullLabel + "_" + ts + "I"
	default:
		return ts + "F"
	}
}

// withProtocolTimeout bounds a control-plane statement (backup-start,
// backup-stop) to d, the reconciled --protocol-timeout, without constraining
// the much longer file-dispatch phase the same ctx is also used for
// elsewhere in Run. d <= 0 leaves ctx untouched.
func withProtocolTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func applyResults(m *info.Manifest, results map[string]CopyResult, priorLabel string) {
	for i := range m.Files {
		r, ok := results[m.Files[i].Name]
		if !ok {
			continue
		}
		switch r.Kind {
		case ResultSkip:
			m.Files[i].Reference = priorLabel
			m.Files[i].SizeRepo = r.RepoSize
			m.Files[i].Checksum = r.Checksum
			m.Files[i].BundleID = r.BundleID
			m.Files[i].BundleOffset = r.BundleOffset
		case ResultNoop:
			m.Files[i].SizeRepo = 0
			m.Files[i].Checksum = ""
		default:
			m.Files[i].SizeRepo = r.RepoSize
			m.Files[i].Checksum = r.Checksum
			m.Files[i].BundleID = r.BundleID
			m.Files[i].BundleOffset = r.BundleOffset
			if r.PageChecksumFail != nil {
				pass := len(r.PageChecksumFail) == 0
				m.Files[i].ChecksumPage = &pass
			}
		}
	}
}

func totalSize(m *info.Manifest) int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func totalRepoSize(m *info.Manifest) int64 {
	var n int64
	for _, f := range m.Files {
		n += f.SizeRepo
	}
	return n
}
