package archive

import (
	"context"
	"sort"
	"strconv"

	"github.com/pgrepo/pgrepo/internal/pginterface"
	"github.com/pgrepo/pgrepo/internal/storage"
)

// HistoryLine is one parsed line of a "<timeline>.history" file: the
// parent timeline that was followed up to switchLSN.
type HistoryLine struct {
	Timeline  uint32
	SwitchLSN pginterface.LSN
}

// Timelines lists the timeline history files present for archiveID,
// newest first, supporting archive-get's timeline-chain lookup (spec
// §4.4.3, "follow history chains when the requested segment does not
// exist on the caller's timeline").
func Timelines(ctx context.Context, r *storage.Repo, stanza, archiveID string) ([]uint32, error) {
	dir := r.ArchiveIDDir(stanza, archiveID)
	entries, err := r.Driver.List(ctx, dir)
	if err != nil {
		return nil, nil
	}
	var tlis []uint32
	for _, e := range entries {
		if m := pginterface.HistoryFileRE.FindStringSubmatch(e.Name); m != nil {
			if tli, err := strconv.ParseUint(m[1], 16, 32); err == nil {
				tlis = append(tlis, uint32(tli))
			}
		}
	}
	sort.Slice(tlis, func(i, j int) bool { return tlis[i] > tlis[j] })
	return tlis, nil
}
