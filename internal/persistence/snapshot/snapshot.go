// Package snapshot writes periodic full-state backups: a JSON header line
// followed by a gob body, zstd-compressed. Snapshots are a restore path for
// a lost document directory, not the primary persistence.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"actionforge.gg/internal/rules"
)

type Header struct {
	Version int       `json:"version"`
	TakenAt time.Time `json:"taken_at"`
}

type StateV1 struct {
	Header Header `json:"header"`

	Principals  []rules.Principal       `json:"principals"`
	Definitions []rules.ActionDefinition `json:"definitions"`
	Anchors     []rules.AnchorRecord    `json:"anchors"`
	Locations   map[string]string       `json:"locations"`
}

func Write(path string, snap StateV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer zw.Close()

	bw := bufio.NewWriterSize(zw, 128*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (StateV1, error) {
	var snap StateV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer zr.Close()

	br := bufio.NewReaderSize(zr, 128*1024)

	// Header line is advisory; the gob body carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Latest returns the newest snapshot under dir, or "" when none exist.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".state.zst") {
			continue
		}
		if best == "" || e.Name() > best {
			best = e.Name()
		}
	}
	if best == "" {
		return ""
	}
	return filepath.Join(dir, best)
}

// FileName names a snapshot by its capture time; lexical order is time order.
func FileName(at time.Time) string {
	return at.UTC().Format("20060102T150405") + ".state.zst"
}
