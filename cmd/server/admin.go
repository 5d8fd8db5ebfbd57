package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"actionforge.gg/internal/anchor"
	"actionforge.gg/internal/engine"
	"actionforge.gg/internal/persistence/snapshot"
	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

type adminDeps struct {
	store   *store.Store
	engine  *engine.Engine
	syncer  *anchor.Synchronizer
	runner  *anchor.Runner
	dataDir string
	logger  *log.Logger
}

// registerAdmin wires the loopback-only operator endpoints.
func registerAdmin(mux *http.ServeMux, d adminDeps) {
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			h(rw, r)
		}
	}

	mux.HandleFunc("/admin/v1/state", guard(d.handleState))
	mux.HandleFunc("/admin/v1/definitions", guard(d.handleDefinitions))
	mux.HandleFunc("/admin/v1/locations", guard(d.handleLocations))
	mux.HandleFunc("/admin/v1/sync", guard(d.handleSync))
	mux.HandleFunc("/admin/v1/snapshot", guard(d.handleSnapshot))
}

func (d adminDeps) handleState(rw http.ResponseWriter, r *http.Request) {
	var defs, principals, anchors, locations int
	err := d.store.View(r.Context(), func(tx *store.Tx) error {
		defs = len(tx.Definitions())
		anchors = len(tx.AnchorLocations())
		locations = len(tx.Locations())
		principals = tx.PrincipalCount()
		return nil
	})
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	m := d.engine.MetricsRef()
	writeJSON(rw, map[string]any{
		"definitions":    defs,
		"principals":     principals,
		"anchors":        anchors,
		"locations":      locations,
		"triggers_total": m.Triggers.Load(),
		"claims_granted": m.ClaimsGranted.Load(),
		"claims_denied":  m.ClaimsDenied.Load(),
		"failures_total": m.Failures.Load(),
		"queue_depth":    d.store.QueueDepth(),
	})
}

func (d adminDeps) handleDefinitions(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs, err := d.engine.Definitions(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, defs)

	case http.MethodPost, http.MethodPut:
		var def rules.ActionDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			http.Error(rw, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		created, touched, err := d.engine.PutDefinition(r.Context(), &def, adminActor(r))
		if err != nil {
			writeEngineError(rw, err)
			return
		}
		d.runner.Enqueue(touched)
		writeJSON(rw, map[string]any{"ok": true, "created": created, "touched": touched})

	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(rw, "id is required", http.StatusBadRequest)
			return
		}
		touched, err := d.engine.DeleteDefinition(r.Context(), id, adminActor(r))
		if err != nil {
			writeEngineError(rw, err)
			return
		}
		d.runner.Enqueue(touched)
		writeJSON(rw, map[string]any{"ok": true, "touched": touched})

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d adminDeps) handleLocations(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var out map[string]string
		err := d.store.View(r.Context(), func(tx *store.Tx) error {
			out = map[string]string{}
			for _, id := range tx.Locations() {
				ref, _ := tx.ChannelRef(id)
				out[id] = ref
			}
			return nil
		})
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, out)

	case http.MethodPost, http.MethodPut:
		var req struct {
			LocationID string `json:"location_id"`
			ChannelRef string `json:"channel_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.engine.RegisterLocation(r.Context(), req.LocationID, req.ChannelRef); err != nil {
			writeEngineError(rw, err)
			return
		}
		d.runner.Enqueue([]string{req.LocationID})
		writeJSON(rw, map[string]any{"ok": true})

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSync runs a refresh inline (no debounce) and returns per-location
// results; operators use it to verify a location end to end.
func (d adminDeps) handleSync(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Locations []string `json:"locations"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var (
		results map[string]anchor.Result
		err     error
	)
	if len(req.Locations) == 0 {
		results, err = d.syncer.SyncAll(r.Context())
	} else {
		results, err = d.syncer.Sync(r.Context(), req.Locations)
	}
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(rw, results)
}

func (d adminDeps) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	path := filepath.Join(d.dataDir, "snapshots", snapshot.FileName(snap.Header.TakenAt))
	if err := snapshot.Write(path, snap); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, map[string]any{"ok": true, "path": path})
}

func adminActor(r *http.Request) string {
	if by := strings.TrimSpace(r.Header.Get("X-Actor")); by != "" {
		return by
	}
	return "admin"
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func writeEngineError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""
	if ce, ok := err.(*engine.Error); ok {
		code = ce.Code
		switch ce.Code {
		case protocol.ErrValidation, protocol.ErrProtoBadRequest:
			status = http.StatusBadRequest
		case protocol.ErrNotFound:
			status = http.StatusNotFound
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "code": code, "error": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
