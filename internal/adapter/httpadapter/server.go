package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/open-data-etl/internal/domain"
	"github.com/couchcryptid/open-data-etl/internal/pipeline"
)

// TableLookup resolves silver table manifests. Implemented by catalog.Store.
type TableLookup interface {
	Get(ctx context.Context, identifier string) (domain.TableManifest, error)
	GetBySource(ctx context.Context, sourceName string) (domain.TableManifest, error)
	List(ctx context.Context) ([]domain.TableManifest, error)
}

// RunReporter exposes the most recent pipeline run. Implemented by pipeline.Pipeline.
type RunReporter interface {
	LastRun() (pipeline.RunSummary, bool)
}

// Server exposes health, readiness, metrics, and table lookup HTTP endpoints.
type Server struct {
	httpServer *http.Server
	tables     TableLookup
	runs       RunReporter
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /identifier, and /runs/last routes. The /tables routes are added when
// tables is non-nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, tables TableLookup, runs RunReporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		tables: tables,
		runs:   runs,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /identifier", s.handleIdentifier)
	mux.HandleFunc("GET /runs/last", s.handleLastRun)
	if tables != nil {
		mux.HandleFunc("GET /tables", s.handleListTables)
		mux.HandleFunc("GET /tables/{identifier}", s.handleGetTable)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type identifierResponse struct {
	Source        string `json:"source"`
	Identifier    string `json:"identifier"`
	NamingVersion int    `json:"naming_version"`
}

// handleIdentifier derives the identifier for ?source=; it needs no catalog.
func (s *Server) handleIdentifier(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("source")
	if strings.TrimSpace(src) == "" {
		writeError(w, http.StatusBadRequest, "source query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, identifierResponse{
		Source:        src,
		Identifier:    domain.TableName(src),
		NamingVersion: domain.NamingVersion,
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.runs.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no completed run")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.tables.List(r.Context())
	if err != nil {
		s.logger.Error("list tables failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list tables failed")
		return
	}
	if tables == nil {
		tables = []domain.TableManifest{}
	}
	writeJSON(w, http.StatusOK, tables)
}

// handleGetTable looks a table up by identifier, or by source name when the
// ?by=source query parameter is set.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("identifier")

	var (
		m   domain.TableManifest
		err error
	)
	if r.URL.Query().Get("by") == "source" {
		m, err = s.tables.GetBySource(r.Context(), key)
	} else {
		m, err = s.tables.Get(r.Context(), key)
	}
	switch {
	case errors.Is(err, domain.ErrTableNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("get table failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "get table failed")
	default:
		writeJSON(w, http.StatusOK, m)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
