package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer zr.Close()

	var out []Entry
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestAuditWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	entries := []Entry{
		{At: at, Kind: "trigger", DefinitionID: "def_a", PrincipalID: "p1", OK: true},
		{At: at.Add(time.Minute), Kind: "anchor", LocationID: "loc_1", OK: false, Code: "E_TIMEOUT", Detail: "failed"},
	}
	for _, e := range entries {
		if err := l.Write(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "audit", "audit-2026-03-14-09.jsonl.zst")
	got := readEntries(t, path)
	if len(got) != 2 {
		t.Fatalf("entries: %d", len(got))
	}
	if got[0].Kind != "trigger" || got[0].DefinitionID != "def_a" || !got[0].OK {
		t.Fatalf("entry 0: %+v", got[0])
	}
	if got[1].Code != "E_TIMEOUT" || got[1].OK {
		t.Fatalf("entry 1: %+v", got[1])
	}
}

func TestAuditRotatesByHour(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)

	if err := l.Write(Entry{At: time.Date(2026, 3, 14, 9, 59, 0, 0, time.UTC), Kind: "trigger", OK: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Write(Entry{At: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), Kind: "trigger", OK: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, name := range []string{"audit-2026-03-14-09.jsonl.zst", "audit-2026-03-14-10.jsonl.zst"} {
		if got := readEntries(t, filepath.Join(dir, "audit", name)); len(got) != 1 {
			t.Fatalf("%s: %d entries", name, len(got))
		}
	}
}

func TestAuditWriteAfterCloseIsDropped(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if err := l.Write(Entry{At: at, Kind: "trigger", OK: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Late writes from in-flight work during shutdown, same hour included.
	if err := l.Write(Entry{At: at.Add(time.Minute), Kind: "trigger", OK: true}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}

	path := filepath.Join(dir, "audit", "audit-2026-03-14-09.jsonl.zst")
	if got := readEntries(t, path); len(got) != 1 {
		t.Fatalf("dropped write landed anyway: %d entries", len(got))
	}
}

func TestAuditStampsMissingTimestamp(t *testing.T) {
	l := NewAuditLogger(t.TempDir())
	defer l.Close()
	if err := l.Write(Entry{Kind: "authoring", OK: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
}
