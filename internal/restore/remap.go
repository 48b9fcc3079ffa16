package restore

import (
	"path/filepath"
	"strings"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/info"
)

// ApplyRemaps rewrites m's tablespace target paths and non-tablespace link
// destinations per --tablespace-map/--tablespace-map-all/--link-map/
// --link-all before Clean runs, so the clean and file-dispatch phases see
// the remapped locations directly (spec §4.3 "Manifest map").
func ApplyRemaps(m *info.Manifest, tablespaceMap map[string]string, tablespaceMapAll string, linkMap map[string]string, linkAll bool) error {
	for _, t := range m.Targets {
		if t.Type != info.TargetLink {
			continue
		}
		newPath, ok := tablespaceMap[t.TablespaceName]
		switch {
		case ok:
		case tablespaceMapAll != "":
			newPath = filepath.Join(tablespaceMapAll, t.TablespaceID)
		default:
			continue
		}
		if err := m.RemapTarget(t.Name, newPath); err != nil {
			return err
		}
	}

	for i := range m.Links {
		name := m.Links[i].Name
		if isSyntheticTablespaceLink(name) {
			continue // realized from the tablespace target's own (possibly just-remapped) path instead
		}
		rel := strings.TrimPrefix(name, info.PgDataTarget+"/")
		if dest, ok := linkMap[rel]; ok {
			m.Links[i].Destination = dest
			continue
		}
		if !linkAll {
			return errkind.New(errkind.LinkMapError,
				"link %q is not mapped; specify --link-map=%s=<path> or --link-all", rel, rel)
		}
	}
	return nil
}
