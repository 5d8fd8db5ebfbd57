// Package transfer moves definition sets between installations as a
// compressed archive: a JSON header line plus a JSON body, zstd-compressed.
// Claims and authorship never travel; the importing side merges per id and
// keeps its own usage counters.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/klauspost/compress/zstd"

	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

const formatVersion = 1

type Header struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
}

type Document struct {
	Definitions []rules.ActionDefinition `json:"definitions"`
}

type Stats struct {
	Created          int
	Updated          int
	SkippedInvalid   int
	DroppedLocations int
}

// Export writes the definitions with claim ledgers and authorship stripped.
// Free-text tags are documentation and travel with the definition.
func Export(w io.Writer, defs []*rules.ActionDefinition) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer zw.Close()

	bw := bufio.NewWriter(zw)
	defer bw.Flush()

	doc := Document{}
	for _, d := range defs {
		c := d.Clone()
		c.ResetClaims()
		c.Meta = rules.UsageMeta{Tags: c.Meta.Tags}
		doc.Definitions = append(doc.Definitions, *c)
	}

	hb, _ := json.Marshal(Header{Version: formatVersion, ExportedAt: time.Now().UTC(), Count: len(doc.Definitions)})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return json.NewEncoder(bw).Encode(doc)
}

// Import merges an archive into the store. Existing definitions are updated
// in place with their claim ledgers preserved; new ones get fresh authorship.
// Referenced location ids missing from the destination registry are dropped
// and logged, never imported blind.
func Import(ctx context.Context, r io.Reader, st *store.Store, by string, logger *log.Logger) (Stats, error) {
	var stats Stats

	zr, err := zstd.NewReader(r)
	if err != nil {
		return stats, err
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	headLine, err := br.ReadBytes('\n')
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}
	var head Header
	if err := json.Unmarshal(headLine, &head); err != nil {
		return stats, fmt.Errorf("decode header: %w", err)
	}
	if head.Version != formatVersion {
		return stats, fmt.Errorf("unsupported archive version %d", head.Version)
	}
	var doc Document
	if err := json.NewDecoder(br).Decode(&doc); err != nil {
		return stats, fmt.Errorf("decode body: %w", err)
	}

	err = st.Update(ctx, func(tx *store.Tx) error {
		now := time.Now().UTC()
		for i := range doc.Definitions {
			def := doc.Definitions[i].Clone()
			def.Normalize()
			def.ResetClaims()
			if verr := rules.Validate(def); verr != nil {
				stats.SkippedInvalid++
				logger.Printf("import: skipping %q: %v", def.ID, verr)
				continue
			}

			var kept []string
			for _, loc := range def.Locations {
				if tx.KnownLocation(loc) {
					kept = append(kept, loc)
				} else {
					stats.DroppedLocations++
					logger.Printf("import: %q references unknown location %q; dropped", def.ID, loc)
				}
			}
			def.Locations = kept

			if prev, ok := tx.Definition(def.ID); ok {
				rules.CarryClaims(def, prev)
				def.Meta.CreatedBy = prev.Meta.CreatedBy
				def.Meta.CreatedAt = prev.Meta.CreatedAt
				def.Meta.UpdatedAt = now
				stats.Updated++
			} else {
				def.Meta.CreatedBy = by
				def.Meta.CreatedAt = now
				def.Meta.UpdatedAt = now
				stats.Created++
			}
			tx.PutDefinition(def)
		}
		return nil
	})
	return stats, err
}
