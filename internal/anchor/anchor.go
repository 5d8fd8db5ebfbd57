// Package anchor keeps the externally published representation of each
// location (one message listing its live trigger buttons) consistent with
// backing data. Refreshes are batched under a rate ceiling, tolerate missing
// external resources, and report per-location results.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"actionforge.gg/internal/indexdb"
	auditlog "actionforge.gg/internal/persistence/log"
	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/publish"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

type Config struct {
	BatchSize       int
	BatchDelay      time.Duration
	MaxConcurrent   int
	LocationTimeout time.Duration
}

func (c *Config) fill() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.LocationTimeout <= 0 {
		c.LocationTimeout = 10 * time.Second
	}
}

type Status string

const (
	// StatusPublished: the external message was created or overwritten.
	StatusPublished Status = "published"
	// StatusUnchanged: rendered state already matches; nothing was written.
	StatusUnchanged Status = "unchanged"
	// StatusSkipped: nothing to render or nowhere to render it. Non-fatal.
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type Result struct {
	Status     Status
	MessageRef string
	Detail     string
}

// AuditSink receives per-location sync audit entries.
type AuditSink interface {
	Write(auditlog.Entry) error
}

// IndexSink receives async rows for the operator query index.
type IndexSink interface {
	RecordAnchorSync(indexdb.AnchorRow)
}

type Synchronizer struct {
	store  *store.Store
	pub    publish.Publisher
	cfg    Config
	logger *log.Logger
	audit  AuditSink
	index  IndexSink

	Synced atomic.Int64
	Failed atomic.Int64
}

func New(st *store.Store, pub publish.Publisher, cfg Config, audit AuditSink, logger *log.Logger) *Synchronizer {
	cfg.fill()
	return &Synchronizer{store: st, pub: pub, cfg: cfg, audit: audit, logger: logger}
}

// SetIndex attaches the optional query index. Not safe to call once syncs run.
func (s *Synchronizer) SetIndex(ix IndexSink) { s.index = ix }

// SyncAll refreshes every location that either exposes definitions or holds
// an anchor record (the latter catches orphans whose definitions are gone).
// Idempotent: a second run with no intervening change performs no writes.
func (s *Synchronizer) SyncAll(ctx context.Context) (map[string]Result, error) {
	seen := map[string]bool{}
	err := s.store.View(ctx, func(tx *store.Tx) error {
		for _, d := range tx.Definitions() {
			for _, loc := range d.Locations {
				seen[loc] = true
			}
		}
		for _, loc := range tx.AnchorLocations() {
			seen[loc] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(seen))
	for loc := range seen {
		ids = append(ids, loc)
	}
	sort.Strings(ids)
	return s.Sync(ctx, ids)
}

// Sync refreshes the given locations in rate-limited batches. A failing
// location never aborts the batch; the returned map holds one Result per
// requested location.
func (s *Synchronizer) Sync(ctx context.Context, locationIDs []string) (map[string]Result, error) {
	results := make(map[string]Result, len(locationIDs))
	var mu sync.Mutex

	for start := 0; start < len(locationIDs); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(locationIDs) {
			end = len(locationIDs)
		}
		if start > 0 && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.cfg.BatchDelay):
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrent)
		for _, loc := range locationIDs[start:end] {
			loc := loc
			g.Go(func() error {
				res := s.SyncLocation(gctx, loc)
				mu.Lock()
				results[loc] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// SyncLocation refreshes one location under its own time budget, so a stuck
// gateway call fails this location alone.
func (s *Synchronizer) SyncLocation(ctx context.Context, locationID string) Result {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LocationTimeout)
	defer cancel()

	res := s.syncOne(ctx, locationID)
	switch res.Status {
	case StatusFailed:
		s.Failed.Add(1)
		s.logger.Printf("anchor %s: %s (%s)", locationID, res.Status, res.Detail)
	case StatusPublished:
		s.Synced.Add(1)
	}
	if s.audit != nil && res.Status != StatusUnchanged {
		_ = s.audit.Write(auditlog.Entry{
			Kind:       "anchor",
			LocationID: locationID,
			OK:         res.Status != StatusFailed,
			Detail:     string(res.Status),
			Code:       res.Detail,
		})
	}
	if s.index != nil && res.Status != StatusUnchanged {
		s.index.RecordAnchorSync(indexdb.AnchorRow{
			At:         time.Now().UTC(),
			LocationID: locationID,
			Status:     string(res.Status),
			MessageRef: res.MessageRef,
			Detail:     res.Detail,
		})
	}
	return res
}

func (s *Synchronizer) syncOne(ctx context.Context, locationID string) Result {
	var (
		defs       []*rules.ActionDefinition
		record     *rules.AnchorRecord
		hasRecord  bool
		channelRef string
		hasChannel bool
	)
	err := s.store.View(ctx, func(tx *store.Tx) error {
		defs = tx.DefinitionsAt(locationID)
		record, hasRecord = tx.Anchor(locationID)
		channelRef, hasChannel = tx.ChannelRef(locationID)
		return nil
	})
	if err != nil {
		return failure(err)
	}

	if len(defs) == 0 && !hasRecord {
		return Result{Status: StatusSkipped, Detail: "nothing to render"}
	}

	payload, renderedIDs := renderLocation(locationID, defs)
	digest := payloadDigest(payload)

	if hasRecord && record.MessageRef != "" && record.ContentDigest == digest {
		return Result{Status: StatusUnchanged, MessageRef: record.MessageRef}
	}

	// Prefer the channel the anchor was first published into.
	if hasRecord && record.ChannelRef != "" {
		channelRef = record.ChannelRef
		hasChannel = true
	}
	if !hasChannel {
		// Never published and not registered: log and skip, per-location
		// failure must not poison the batch.
		return Result{Status: StatusSkipped, Detail: "no channel ref for location"}
	}

	ref := ""
	if hasRecord {
		ref = record.MessageRef
	}
	if ref != "" {
		err = s.pub.Update(ctx, ref, payload)
		if errors.Is(err, publish.ErrMissingRef) {
			// Externally deleted out-of-band: repair by publishing fresh.
			ref = ""
			err = nil
		} else if err != nil {
			return failure(err)
		}
	}
	if ref == "" {
		ref, err = s.pub.Publish(ctx, locationID, channelRef, payload)
		if errors.Is(err, publish.ErrMissingRef) {
			return Result{Status: StatusSkipped, Detail: "channel missing externally"}
		}
		if err != nil {
			return failure(err)
		}
	}

	err = s.store.Update(ctx, func(tx *store.Tx) error {
		tx.PutAnchor(&rules.AnchorRecord{
			LocationID:    locationID,
			ChannelRef:    channelRef,
			MessageRef:    ref,
			Rendered:      renderedIDs,
			ContentDigest: digest,
			UpdatedAt:     time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return failure(fmt.Errorf("record anchor: %w", err))
	}
	return Result{Status: StatusPublished, MessageRef: ref}
}

func failure(err error) Result {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "timeout"
	}
	return Result{Status: StatusFailed, Detail: detail}
}

// renderLocation builds the location's button listing from live definitions,
// in the store's name-then-id order.
func renderLocation(locationID string, defs []*rules.ActionDefinition) (protocol.Payload, []string) {
	var p protocol.Payload
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
		label := d.TriggerConfig.ButtonLabel
		if label == "" {
			label = d.Name
		}
		kind := protocol.ElementButton
		if d.Trigger == rules.TriggerForm {
			kind = protocol.ElementForm
		}
		p.Elements = append(p.Elements, protocol.Element{
			Kind:         kind,
			Label:        label,
			DefinitionID: d.ID,
			Style:        d.TriggerConfig.ButtonStyle,
		})
	}
	if len(defs) == 0 {
		p.Content = "No actions are available here right now."
	} else {
		p.Content = fmt.Sprintf("%d action(s) available:", len(defs))
	}
	if len(p.Elements) > protocol.MaxPayloadElements {
		p.Elements = p.Elements[:protocol.MaxPayloadElements]
		p.Content += "\n[some actions were omitted]"
	}
	protocol.ClampPayload(&p)
	return p, ids
}

func payloadDigest(p protocol.Payload) string {
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
