package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleStanza() StanzaInfo {
	return StanzaInfo{
		Name: "main", Cipher: "none", Status: StatusOK,
		DBs:     []DBInfo{{ID: 1, SystemID: 7, Version: "16", Current: true}},
		Archive: []ArchiveRange{{DBID: 1, Min: "000000010000000000000001", Max: "000000010000000000000002"}},
		Backup: []BackupEntry{{
			Label: "20260101-000000F", Type: "full", DBID: 1,
			WalStart: "000000010000000000000001", WalStop: "000000010000000000000002",
			TimestampStart: 1700000000, TimestampStop: 1700000100,
			SizeDB: 5 * 1024 * 1024, SizeRepo: 2 * 1024 * 1024,
		}},
	}
}

func TestFormatTextIncludesBackupAndArchiveRange(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatText(&buf, []StanzaInfo{sampleStanza()}); err != nil {
		t.Fatalf("FormatText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"stanza: main", "status: ok", "db (current)",
		"000000010000000000000001/000000010000000000000002",
		"full backup: 20260101-000000F",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected text output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestFormatTextSkipsDetailWhenStanzaPathMissing(t *testing.T) {
	var buf bytes.Buffer
	si := StanzaInfo{Name: "ghost", Status: StatusMissingStanzaPath}
	if err := FormatText(&buf, []StanzaInfo{si}); err != nil {
		t.Fatalf("FormatText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "stanza: ghost") || !strings.Contains(out, string(StatusMissingStanzaPath)) {
		t.Fatalf("expected a minimal status-only block, got:\n%s", out)
	}
	if strings.Contains(out, "db (") {
		t.Fatalf("did not expect a db section for a missing stanza, got:\n%s", out)
	}
}

func TestFormatJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := []StanzaInfo{sampleStanza()}
	if err := FormatJSON(&buf, want); err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	var got []StanzaInfo
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "main" || len(got[0].Backup) != 1 {
		t.Fatalf("unexpected round-tripped result: %+v", got)
	}
}

func TestHumanSizeFormatsUnits(t *testing.T) {
	cases := map[int64]string{
		512:             "512B",
		2048:            "2.0KiB",
		5 * 1024 * 1024: "5.0MiB",
	}
	for n, want := range cases {
		if got := humanSize(n); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", n, got, want)
		}
	}
}
