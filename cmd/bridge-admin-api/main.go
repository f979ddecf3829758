// Command bridge-admin-api exposes the same read-mostly operator surface as
// bridge-admin over HTTP, for dashboards and automation that can't shell
// out to the CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/operator"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

type server struct {
	buf      *buffer.Buffer
	st       *store.Store
	reporter *operator.Reporter
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge's configuration file")
	addr := flag.String("addr", ":8090", "address to listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := zap.NewNop()
	st, err := store.Open(cfg.Buffer.DBPath, cfg.Buffer.WALEnabled, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	srv := &server{
		buf:      buffer.New(st, cfg.Buffer, log),
		st:       st,
		reporter: operator.NewReporter(st),
	}

	r := mux.NewRouter()
	r.HandleFunc("/stats", srv.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/pending", srv.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/failed", srv.handleFailed).Methods(http.MethodGet)
	r.HandleFunc("/report", srv.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/cleanup", srv.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	httpSrv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	fmt.Printf("bridge-admin-api listening on %s\n", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.buf.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	msgs, err := s.buf.PendingPreview(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (s *server) handleFailed(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	dl, err := s.buf.ExportDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, dl)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	windowHours := intQuery(r, "hours", 24)
	rep, err := s.reporter.Generate(r.Context(), windowHours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.buf.Sweep(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
