// Package restore implements the restore engine (spec §4.6): precondition
// checks, backup selection against backup.info, the manifest-driven clean
// and file-dispatch phases, selective-database zero-fill, and recovery
// configuration. It is the counterpart of internal/backup's Run, sharing
// its target-resolution and job-dispatch idioms.
package restore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
	"github.com/pgrepo/pgrepo/internal/process"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// RunOptions configures one restore (spec §4.6).
type RunOptions struct {
	Stanza           string
	Repo             *storage.Repo
	PGData           string
	Set              string // --set=<label>; "" selects the latest backup
	Delta            bool
	Force            bool
	Preserve         bool // --type=preserve also tolerates an existing recovery.conf
	Workers          int
	CipherPass       string
	DBInclude        []string
	DBExclude        []string
	TablespaceMap    map[string]string // tablespace name -> new path (--tablespace-map)
	TablespaceMapAll string            // parent dir remapping every tablespace at once (--tablespace-map-all)
	LinkMap          map[string]string // manifest link name -> new destination (--link-map)
	LinkAll          bool              // tolerate unmapped non-tablespace links instead of erroring (--link-all)
	PgVersion        int               // target cluster's pg_control Version, selects recovery.conf vs signal-file style
	Recovery         RecoveryOptions
	ShowProgress     bool
}

// Run restores opt.Stanza's selected backup into opt.PGData and returns
// the manifest it restored.
func Run(ctx context.Context, opt RunOptions) (*info.Manifest, error) {
	if err := CheckPreconditions(opt.PGData, opt.Delta, opt.Force); err != nil {
		return nil, err
	}

	backupPath := opt.Repo.BackupInfoPath(opt.Stanza, false)
	bi, err := info.LoadInfoFrom(opt.Repo.Driver, backupPath)
	if err != nil {
		return nil, err
	}

	label := opt.Set
	if label == "" {
		latest, ok := bi.Latest()
		if !ok {
			return nil, errkind.New(errkind.BackupSetInvalidError, "no backup exists in stanza %s", opt.Stanza)
		}
		label = latest.Label
	} else if _, ok := bi.Backups[label]; !ok {
		return nil, errkind.New(errkind.BackupSetInvalidError, "backup %s not found in stanza %s", label, opt.Stanza)
	}

	chain, err := bi.Chain(label)
	if err != nil {
		return nil, err
	}

	m, err := info.LoadManifestFrom(opt.Repo.Driver, opt.Repo.ManifestPath(opt.Stanza, label, false))
	if err != nil {
		return nil, err
	}
	if err := m.ValidateForRestore(label); err != nil {
		return nil, err
	}

	if err := ApplyRemaps(m, opt.TablespaceMap, opt.TablespaceMapAll, opt.LinkMap, opt.LinkAll); err != nil {
		return nil, err
	}

	if err := Clean(ctx, opt.PGData, m, opt.Delta, opt.Preserve); err != nil {
		return nil, err
	}

	zeroFiles, zeroFilenode, err := SelectiveSet(m, opt.DBInclude, opt.DBExclude)
	if err != nil {
		return nil, err
	}

	priorManifests := map[string]*info.Manifest{}
	for _, b := range chain {
		if b.Label == label {
			continue
		}
		pm, err := info.LoadManifestFrom(opt.Repo.Driver, opt.Repo.ManifestPath(opt.Stanza, b.Label, false))
		if err != nil {
			return nil, err
		}
		priorManifests[b.Label] = pm
	}

	jobs := BuildJobs(m)
	buckets := process.Distribute(jobs, opt.Workers)
	dispatchOpt := DispatchOptions{
		Repo: opt.Repo, Stanza: opt.Stanza, Label: label, PGData: opt.PGData,
		Workers: opt.Workers, Manifest: m, PriorManifests: priorManifests,
		CipherPass: opt.CipherPass, ZeroFiles: zeroFiles, ZeroFilenodeMap: zeroFilenode,
		Progress: process.NewProgress(opt.ShowProgress, label, process.TotalBytes(buckets)),
	}
	if err := Dispatch(ctx, dispatchOpt, buckets); err != nil {
		return nil, err
	}

	if err := WriteRecoveryConfig(opt.PGData, opt.PgVersion, opt.Recovery); err != nil {
		return nil, err
	}

	if err := m.Save(filepath.Join(opt.PGData, "backup.manifest")); err != nil {
		return nil, err
	}
	return m, nil
}

// CheckPreconditions enforces spec §4.6's restore preconditions: pg-path
// must exist, the cluster must not look running, and --delta/--force need
// either a pg_control or a prior backup.manifest to diff against.
func CheckPreconditions(pgData string, delta, force bool) error {
	fi, err := os.Stat(pgData)
	if err != nil || !fi.IsDir() {
		return errkind.New(errkind.PathMissingError, "pg-path %s does not exist", pgData)
	}

	pidPath := filepath.Join(pgData, "postmaster.pid")
	if _, err := os.Stat(pidPath); err == nil && !delta && !force {
		return errkind.New(errkind.PostmasterRunningError,
			"%s exists; the cluster appears to be running (pass --delta or --force to override)", pidPath)
	}

	if delta || force {
		_, controlErr := os.Stat(filepath.Join(pgData, "global", "pg_control"))
		_, manifestErr := os.Stat(filepath.Join(pgData, "backup.manifest"))
		if controlErr != nil && manifestErr != nil {
			return errkind.New(errkind.FileMissingError,
				"--delta/--force requires an existing pg_control or backup.manifest under %s", pgData)
		}
	}
	return nil
}
