package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"actionforge.gg/internal/anchor"
	"actionforge.gg/internal/config"
	"actionforge.gg/internal/engine"
	"actionforge.gg/internal/indexdb"
	persistlog "actionforge.gg/internal/persistence/log"
	"actionforge.gg/internal/persistence/snapshot"
	"actionforge.gg/internal/publish"
	"actionforge.gg/internal/store"
	"actionforge.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configPath = flag.String("config", "", "path to engine.yaml (default: <data>/engine.yaml)")
		gatewayURL = flag.String("gateway_ws_url", "", "render gateway websocket url (empty: in-memory dry-run publisher)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite query index")

		restorePath  = flag.String("restore", "", "snapshot to restore at boot (optional; only into an empty document tree)")
		syncDebounce = flag.Duration("sync_debounce", 2*time.Second, "anchor refresh debounce window")
		syncOnBoot   = flag.Bool("sync_on_boot", true, "run a full anchor sync after startup")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cp := strings.TrimSpace(*configPath)
	if cp == "" {
		cp = filepath.Join(*dataDir, "engine.yaml")
	}
	cfg, err := config.Load(cp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", cp)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}

	docDir := filepath.Join(*dataDir, "docs")
	st, err := store.Open(docDir, logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := st.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("store stopped: %v", err)
		}
	}()

	if err := restoreAtBoot(ctx, st, *dataDir, strings.TrimSpace(*restorePath), logger); err != nil {
		logger.Fatalf("restore: %v", err)
	}

	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	eng := engine.New(st, auditLog, logger)
	if idx != nil {
		eng.SetIndex(idx)
	}

	var pub publish.Publisher
	if u := strings.TrimSpace(*gatewayURL); u != "" {
		client := publish.NewClient(u, cfg.Publish.RatePerSec, cfg.Publish.Burst, logger)
		defer client.Close()
		pub = client
	} else {
		logger.Printf("no gateway url; anchors publish to an in-memory sink")
		pub = publish.NewMemory()
	}

	syncer := anchor.New(st, pub, anchor.Config{
		BatchSize:       cfg.Sync.BatchSize,
		BatchDelay:      cfg.Sync.BatchDelay(),
		MaxConcurrent:   cfg.Sync.MaxConcurrent,
		LocationTimeout: cfg.Sync.LocationTimeout(),
	}, auditLog, logger)
	if idx != nil {
		syncer.SetIndex(idx)
	}
	runner := anchor.NewRunner(syncer, *syncDebounce, logger)
	go func() {
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("anchor runner stopped: %v", err)
		}
	}()
	if *syncOnBoot {
		runner.RequestAll()
	}

	// Periodic full-state backups; primary persistence is the document tree.
	if cfg.SnapshotEverySec > 0 {
		go snapshotLoop(ctx, st, *dataDir, time.Duration(cfg.SnapshotEverySec)*time.Second, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(eng, syncer, st))
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, cfg.TriggerTimeout(), logger).Handler())

	if envBool("AF_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, adminDeps{
			store:   st,
			engine:  eng,
			syncer:  syncer,
			runner:  runner,
			dataDir: *dataDir,
			logger:  logger,
		})
	} else {
		logger.Printf("admin endpoints disabled (AF_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("AF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// restoreAtBoot fills an empty document tree from a snapshot: the one named
// by -restore, or the newest under <data>/snapshots when the tree is empty
// and no path was given. Restoring over live documents is refused; snapshots
// are a recovery path, not a merge source.
func restoreAtBoot(ctx context.Context, st *store.Store, dataDir, restorePath string, logger *log.Logger) error {
	empty, err := storeEmpty(ctx, st)
	if err != nil {
		return err
	}

	path := restorePath
	if path == "" {
		if !empty {
			return nil
		}
		path = snapshot.Latest(filepath.Join(dataDir, "snapshots"))
		if path == "" {
			return nil
		}
	} else if !empty {
		return fmt.Errorf("-restore requires an empty document tree; %s already holds documents", dataDir)
	}

	snap, err := snapshot.Read(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := st.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	logger.Printf("restored from snapshot=%s taken_at=%s", filepath.Base(path), snap.Header.TakenAt.Format(time.RFC3339))
	return nil
}

func storeEmpty(ctx context.Context, st *store.Store) (bool, error) {
	empty := true
	err := st.View(ctx, func(tx *store.Tx) error {
		if len(tx.Definitions()) > 0 || tx.PrincipalCount() > 0 ||
			len(tx.AnchorLocations()) > 0 || len(tx.Locations()) > 0 {
			empty = false
		}
		return nil
	})
	return empty, err
}

func snapshotLoop(ctx context.Context, st *store.Store, dataDir string, every time.Duration, logger *log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap, err := st.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Printf("snapshot capture: %v", err)
				}
				continue
			}
			path := filepath.Join(dataDir, "snapshots", snapshot.FileName(snap.Header.TakenAt))
			if err := snapshot.Write(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			logger.Printf("snapshot written: %s", filepath.Base(path))
		}
	}
}

func metricsHandler(eng *engine.Engine, syncer *anchor.Synchronizer, st *store.Store) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := eng.MetricsRef()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP actionforge_triggers_total Trigger invocations handled.\n")
		fmt.Fprintf(rw, "# TYPE actionforge_triggers_total counter\n")
		fmt.Fprintf(rw, "actionforge_triggers_total %d\n", m.Triggers.Load())

		fmt.Fprintf(rw, "# HELP actionforge_trigger_failures_total Trigger invocations that failed.\n")
		fmt.Fprintf(rw, "# TYPE actionforge_trigger_failures_total counter\n")
		fmt.Fprintf(rw, "actionforge_trigger_failures_total %d\n", m.Failures.Load())

		fmt.Fprintf(rw, "# HELP actionforge_claims_total Claim decisions.\n")
		fmt.Fprintf(rw, "# TYPE actionforge_claims_total counter\n")
		fmt.Fprintf(rw, "actionforge_claims_total{result=%q} %d\n", "granted", m.ClaimsGranted.Load())
		fmt.Fprintf(rw, "actionforge_claims_total{result=%q} %d\n", "denied", m.ClaimsDenied.Load())

		fmt.Fprintf(rw, "# HELP actionforge_anchor_syncs_total Anchor refresh outcomes.\n")
		fmt.Fprintf(rw, "# TYPE actionforge_anchor_syncs_total counter\n")
		fmt.Fprintf(rw, "actionforge_anchor_syncs_total{result=%q} %d\n", "published", syncer.Synced.Load())
		fmt.Fprintf(rw, "actionforge_anchor_syncs_total{result=%q} %d\n", "failed", syncer.Failed.Load())

		fmt.Fprintf(rw, "# HELP actionforge_store_queue_depth Store op channel backlog.\n")
		fmt.Fprintf(rw, "# TYPE actionforge_store_queue_depth gauge\n")
		fmt.Fprintf(rw, "actionforge_store_queue_depth %d\n", st.QueueDepth())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
