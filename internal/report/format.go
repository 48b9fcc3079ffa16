package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FormatJSON writes stanzas as an indented JSON array, the --output=json
// form of the info command.
func FormatJSON(w io.Writer, stanzas []StanzaInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stanzas)
}

// FormatText writes stanzas in the info command's default human-readable
// form (original_source's formatTextDb layout: one block per stanza, one
// "db (current|prior)" section per history entry with its WAL range and
// backups).
func FormatText(w io.Writer, stanzas []StanzaInfo) error {
	for i, si := range stanzas {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "stanza: %s\n", si.Name)
		fmt.Fprintf(w, "    status: %s\n", si.Status)
		if si.Status != StatusOK && si.Status != StatusNoBackup {
			continue
		}
		fmt.Fprintf(w, "    cipher: %s\n", si.Cipher)

		for _, db := range si.DBs {
			label := "prior"
			if db.Current {
				label = "current"
			}
			fmt.Fprintf(w, "\n    db (%s)\n", label)
			fmt.Fprintf(w, "        db id: %d, system id: %d, version: %s\n", db.ID, db.SystemID, db.Version)

			for _, rng := range si.Archive {
				if rng.DBID != db.ID {
					continue
				}
				if rng.Min == "" {
					fmt.Fprintf(w, "        wal archive min/max (%d): none present\n", rng.DBID)
				} else {
					fmt.Fprintf(w, "        wal archive min/max (%d): %s/%s\n", rng.DBID, rng.Min, rng.Max)
				}
			}

			for _, b := range si.Backup {
				if b.DBID != db.ID {
					continue
				}
				fmt.Fprintf(w, "\n        %s backup: %s\n", b.Type, b.Label)
				fmt.Fprintf(w, "            timestamp start/stop: %s / %s\n",
					formatUnix(b.TimestampStart), formatUnix(b.TimestampStop))
				if b.WalStart != "" {
					fmt.Fprintf(w, "            wal start/stop: %s / %s\n", b.WalStart, b.WalStop)
				} else {
					fmt.Fprintln(w, "            wal start/stop: n/a")
				}
				fmt.Fprintf(w, "            database size: %s, repository backup size: %s\n",
					humanSize(b.SizeDB), humanSize(b.SizeRepo))
				if b.Prior != "" {
					fmt.Fprintf(w, "            backup prior: %s\n", b.Prior)
				}
				if b.Error {
					fmt.Fprintln(w, "            backup error: true")
				}
			}
		}
	}
	return nil
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "n/a"
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
}

// humanSize renders a byte count the way info.c's strSizeFormat does:
// the largest whole-number unit that keeps the value readable.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
