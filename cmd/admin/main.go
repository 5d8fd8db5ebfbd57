// admin is the operator CLI. Online commands (state, sync, snapshot, defs,
// location) talk to a running server's loopback admin endpoints; export and
// import work on the document tree directly and expect the server stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
	"actionforge.gg/internal/transfer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "sync":
			syncCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "defs":
			defsCmd(os.Args[2:])
			return
		case "location":
			locationCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	usage()
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  state      show server counters (running server)
  defs       list, upsert or delete definitions (running server)
  location   register a location's channel ref (running server)
  sync       force an anchor refresh (running server)
  snapshot   ask the server to write a snapshot (running server)
  export     write a definition archive from the document tree (server stopped)
  import     merge a definition archive into the document tree (server stopped)
  db         query the sqlite index`)
	os.Exit(2)
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	outPath := fs.String("out", "", "archive path (required)")
	_ = fs.Parse(args)

	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}

	st, stop := openStore(*dataDir)
	defer stop()

	var defs []*rules.ActionDefinition
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.View(ctx, func(tx *store.Tx) error {
		defs = tx.Definitions()
		return nil
	}); err != nil {
		fatal("read definitions:", err)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fatal("create:", err)
	}
	defer f.Close()
	if err := transfer.Export(f, defs); err != nil {
		fatal("export:", err)
	}
	fmt.Printf("exported %d definitions to %s\n", len(defs), *outPath)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	inPath := fs.String("in", "", "archive path (required)")
	by := fs.String("by", "admin", "author recorded on newly created definitions")
	_ = fs.Parse(args)

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}

	st, stop := openStore(*dataDir)
	defer stop()

	f, err := os.Open(*inPath)
	if err != nil {
		fatal("open:", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	logger := log.New(os.Stderr, "[import] ", log.LstdFlags)
	stats, err := transfer.Import(ctx, f, st, *by, logger)
	if err != nil {
		fatal("import:", err)
	}
	fmt.Printf("created=%d updated=%d skipped_invalid=%d dropped_locations=%d\n",
		stats.Created, stats.Updated, stats.SkippedInvalid, stats.DroppedLocations)
}

func openStore(dataDir string) (*store.Store, func()) {
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(dataDir, "docs"), logger)
	if err != nil {
		fatal("open store:", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Run(ctx)
	}()
	return st, func() {
		cancel()
		<-done
	}
}

func fatal(msg string, err error) {
	fmt.Fprintln(os.Stderr, msg, err)
	os.Exit(1)
}
