package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ix, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Now().UTC()
	ix.RecordExecution(ExecutionRow{At: now, DefinitionID: "def_a", PrincipalID: "p1", LocationID: "loc_1", OK: true})
	ix.RecordExecution(ExecutionRow{At: now, DefinitionID: "def_a", PrincipalID: "p2", OK: false, Code: "E_NOT_FOUND"})
	ix.RecordExecution(ExecutionRow{At: now, DefinitionID: "def_b", PrincipalID: "p1", OK: true})
	ix.RecordClaim(ClaimRow{At: now, DefinitionID: "def_a", ActionIndex: 0, PrincipalID: "p1", Granted: true})
	ix.RecordClaim(ClaimRow{At: now, DefinitionID: "def_a", ActionIndex: 0, PrincipalID: "p2", Granted: false})
	ix.RecordAnchorSync(AnchorRow{At: now, LocationID: "loc_1", Status: "published", MessageRef: "msg_1"})
	ix.RecordAnchorSync(AnchorRow{At: now.Add(time.Second), LocationID: "loc_1", Status: "failed", Detail: "timeout"})

	// Close drains the queue and commits the open batch.
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ix, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ix.Close()
	ctx := context.Background()

	sums, err := ix.ExecutionSummaries(ctx, 0)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries: %+v", sums)
	}
	if sums[0].DefinitionID != "def_a" || sums[0].Total != 2 || sums[0].Succeeded != 1 {
		t.Fatalf("def_a summary: %+v", sums[0])
	}

	recent, err := ix.RecentExecutions(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent for p1: %+v", recent)
	}
	if recent[0].DefinitionID != "def_b" {
		t.Fatalf("newest first: %+v", recent[0])
	}

	claims, err := ix.ClaimTotals(ctx, "def_a")
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if len(claims) != 1 || claims[0].Granted != 1 || claims[0].Denied != 1 {
		t.Fatalf("claim totals: %+v", claims)
	}

	anchors, err := ix.LastAnchorSyncs(ctx)
	if err != nil {
		t.Fatalf("anchors: %v", err)
	}
	if len(anchors) != 1 || anchors[0].Status != "failed" || anchors[0].Detail != "timeout" {
		t.Fatalf("last sync must win: %+v", anchors)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	ix, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic on the closed channel.
	ix.RecordExecution(ExecutionRow{At: time.Now(), DefinitionID: "d", PrincipalID: "p", OK: true})
	if err := ix.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
