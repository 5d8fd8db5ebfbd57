// Package log persists the engine's audit trail: one JSONL entry per applied
// action, claim decision and anchor push, compressed and rotated hourly.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one audit record. Kind is one of "trigger", "action", "claim",
// "anchor", "authoring", "import".
type Entry struct {
	At           time.Time `json:"at"`
	Kind         string    `json:"kind"`
	DefinitionID string    `json:"definition_id,omitempty"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
	Code         string    `json:"code,omitempty"`
	OK           bool      `json:"ok"`
	Detail       string    `json:"detail,omitempty"`
	Extra        any       `json:"extra,omitempty"`
}

// AuditLogger appends compressed JSONL entries under <dir>/audit, one file
// per UTC hour.
type AuditLogger struct {
	dir string

	mu     sync.Mutex
	closed bool
	hour   string
	f      *os.File
	zw     *zstd.Encoder
	bw     *bufio.Writer
}

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{dir: filepath.Join(dataDir, "audit")}
}

func (l *AuditLogger) Write(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// Late writes from in-flight triggers during shutdown are dropped, not
	// fatal; the sqlite index treats backpressure the same way.
	if l.closed {
		return nil
	}

	hour := e.At.UTC().Format("2006-01-02-15")
	if hour != l.hour {
		if err := l.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.bw.Write(b); err != nil {
		return err
	}
	if err := l.bw.WriteByte('\n'); err != nil {
		return err
	}
	return l.bw.Flush()
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.closeLocked()
}

func (l *AuditLogger) rotateLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl.zst", hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.zw = zw
	l.bw = bufio.NewWriterSize(zw, 64*1024)
	l.hour = hour
	return nil
}

func (l *AuditLogger) closeLocked() error {
	var errOut error
	if l.bw != nil {
		_ = l.bw.Flush()
	}
	if l.zw != nil {
		errOut = l.zw.Close()
		l.zw = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.bw = nil
	l.hour = ""
	return errOut
}
