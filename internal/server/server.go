// Package server exposes the platform over HTTP: connection management,
// query execution, schema browsing, cache administration, and state
// persistence.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catalogops/metaquality/pkg/platform"
	"github.com/catalogops/metaquality/pkg/snowflake"
	"github.com/catalogops/metaquality/pkg/statestore"
)

// Version is set at build time.
var Version = "dev"

// sessionIDHeader carries the session id on API requests. The
// session_id query parameter is accepted as a fallback.
const sessionIDHeader = "X-Session-ID"

// Server is the HTTP front end over the platform.
type Server struct {
	platform *platform.Platform
	router   *mux.Router
	httpSrv  *http.Server
}

// New creates the HTTP server and registers all routes.
func New(p *platform.Platform) *Server {
	s := &Server{
		platform: p,
		router:   mux.NewRouter(),
	}
	s.routes()

	cfg := p.Config().Server
	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		s.platform.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	sf := api.PathPrefix("/snowflake").Subrouter()
	sf.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	sf.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	sf.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	sf.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)

	mdlh := api.PathPrefix("/mdlh").Subrouter()
	mdlh.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	mdlh.HandleFunc("/databases", s.handleDatabases).Methods(http.MethodGet)
	mdlh.HandleFunc("/databases/{database}/schemas", s.handleSchemas).Methods(http.MethodGet)
	mdlh.HandleFunc("/databases/{database}/schemas/{schema}/tables", s.handleTables).Methods(http.MethodGet)
	mdlh.HandleFunc("/databases/{database}/schemas/{schema}/tables/{table}/columns", s.handleColumns).Methods(http.MethodGet)
	mdlh.HandleFunc("/databases/{database}/schemas/{schema}/tables/{table}/preview", s.handlePreview).Methods(http.MethodGet)

	cc := api.PathPrefix("/cache").Subrouter()
	cc.HandleFunc("/stats", s.handleCacheStats).Methods(http.MethodGet)
	cc.HandleFunc("/invalidate", s.handleCacheInvalidate).Methods(http.MethodPost)

	state := api.PathPrefix("/state").Subrouter()
	state.HandleFunc("", s.handleStateKeys).Methods(http.MethodGet)
	state.HandleFunc("/{key}", s.handleStateGet).Methods(http.MethodGet)
	state.HandleFunc("/{key}", s.handleStateSet).Methods(http.MethodPut)
	state.HandleFunc("/{key}", s.handleStateDelete).Methods(http.MethodDelete)
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the HTTP server until it fails or is shut down.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "address", s.httpSrv.Addr, "version", Version)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
	})
}

// handleReady reports readiness: the state store must be up. A live
// Snowflake session is not required; connecting is a client action.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.platform.States() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, details, err := s.platform.Connect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"connection": details,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"session":   sess.Info(),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	removed := s.platform.Disconnect(sessionID(r))
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": removed})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full_ids") == "true"
	writeJSON(w, http.StatusOK, s.platform.Sessions().Stats(full))
}

type queryRequest struct {
	Query    string         `json:"query"`
	Params   map[string]any `json:"params,omitempty"`
	UseCache *bool          `json:"use_cache,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "query is required"})
		return
	}
	useCache := req.UseCache == nil || *req.UseCache

	rows, cached, err := s.platform.Query(r.Context(), sessionID(r), req.Query, req.Params, useCache)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":      rows,
		"row_count": len(rows),
		"cached":    cached,
	})
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	databases, err := s.platform.Metadata().Databases(r.Context(), sess, useCache(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	schemas, err := s.platform.Metadata().Schemas(r.Context(), sess, mux.Vars(r)["database"], useCache(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	includeViews := r.URL.Query().Get("include_views") != "false"
	tables, err := s.platform.Metadata().Tables(r.Context(), sess,
		vars["database"], vars["schema"], includeViews, useCache(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	columns, err := s.platform.Metadata().Columns(r.Context(), sess,
		vars["database"], vars["schema"], vars["table"], useCache(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, err := s.platform.ResolveSession(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	vars := mux.Vars(r)
	preview, err := s.platform.Metadata().TablePreview(r.Context(), sess,
		vars["database"], vars["schema"], vars["table"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.platform.CacheStats())
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = platform.InvalidateAll
	}
	result, err := s.platform.InvalidateCaches(scope)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStateKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.platform.States().Keys(r.Context(), s.tenant())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	value, err := s.platform.States().Get(r.Context(), s.tenant(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (s *Server) handleStateSet(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be valid JSON"})
		return
	}
	if err := s.platform.States().Set(r.Context(), s.tenant(), mux.Vars(r)["key"], value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": true})
}

func (s *Server) handleStateDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.platform.States().Delete(r.Context(), s.tenant(), mux.Vars(r)["key"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) tenant() string {
	return s.platform.Config().StateStore.Tenant
}

// sessionID extracts the session id from the request, header first.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(sessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

// useCache reads the use_cache query parameter; caching defaults on.
func useCache(r *http.Request) bool {
	return r.URL.Query().Get("use_cache") != "false"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	body := map[string]any{"error": err.Error()}
	var se *snowflake.Error
	if errors.As(err, &se) {
		body["kind"] = string(se.Kind())
	}
	writeJSON(w, status, body)
}

func statusForError(err error) int {
	if errors.Is(err, statestore.ErrNotFound) {
		return http.StatusNotFound
	}
	switch snowflake.KindOf(err) {
	case snowflake.KindInvalidIdentifier:
		return http.StatusBadRequest
	case snowflake.KindNoActiveConnection,
		snowflake.KindWarehouseSuspended,
		snowflake.KindSessionExpired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
