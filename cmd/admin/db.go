package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"actionforge.gg/internal/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/index.db)")
	limit := fs.Int("limit", 20, "result limit")
	principal := fs.String("principal", "", "principal id filter (executions)")
	definition := fs.String("definition", "", "definition id filter (claims)")
	_ = fs.Parse(args)

	q := "summary"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "index.db")
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fatal("open:", err)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch q {
	case "summary":
		rows, err := idx.ExecutionSummaries(ctx, *limit)
		if err != nil {
			fatal("query:", err)
		}
		printJSON(rows)
	case "executions":
		rows, err := idx.RecentExecutions(ctx, *principal, *limit)
		if err != nil {
			fatal("query:", err)
		}
		printJSON(rows)
	case "claims":
		rows, err := idx.ClaimTotals(ctx, *definition)
		if err != nil {
			fatal("query:", err)
		}
		printJSON(rows)
	case "anchors":
		rows, err := idx.LastAnchorSyncs(ctx)
		if err != nil {
			fatal("query:", err)
		}
		printJSON(rows)
	default:
		fmt.Fprintln(os.Stderr, "unknown query (want summary|executions|claims|anchors)")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
