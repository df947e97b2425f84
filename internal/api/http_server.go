package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"binsync/internal/apperr"
	"binsync/internal/cache"
	"binsync/internal/config"
	"binsync/internal/connectivity"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/models"
	"binsync/internal/offline"
	"binsync/internal/queue"
	"binsync/internal/resilience"
	"binsync/internal/storage"
	"binsync/internal/syncer"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Remote is the backend transport used for online reads and writes.
type Remote interface {
	Fetch(ctx context.Context, path string, out any) error
	Send(ctx context.Context, kind models.Kind, payload any) error
}

// Deps are the engine components exposed over HTTP.
type Deps struct {
	Monitor   *connectivity.Monitor
	Syncer    *syncer.Coordinator
	Queue     *queue.Queue
	Offline   *offline.Service
	Cache     *cache.Store
	Storage   storage.Store
	Remote    Remote
	Resources []config.CacheResource
	Retry     config.RetryConfig
}

// HTTPServer exposes the engine to the UI layer.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *Auth
	log    *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:  cfg,
		deps: deps,
		auth: NewAuth(cfg),
		log:  logging.Component(logger, "http"),
	}

	mux.HandleFunc("GET /api/v1/status", srv.handleStatus)
	mux.HandleFunc("POST /api/v1/connection/check", srv.handleCheckConnection)
	mux.HandleFunc("POST /api/v1/sync", srv.handleSync)
	mux.HandleFunc("GET /api/v1/pending/{kind}", srv.handleListPending)
	mux.HandleFunc("POST /api/v1/pending/{kind}", srv.handleSubmit)
	mux.HandleFunc("GET /api/v1/resources/{name}", srv.handleResource)
	mux.HandleFunc("DELETE /api/v1/resources/{name}", srv.handleInvalidate)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	State    models.ConnectivityState `json:"state"`
	Syncing  bool                     `json:"syncing"`
	LastSync *time.Time               `json:"last_sync"`
	Pending  map[models.Kind]int      `json:"pending"`
	Storage  storageStatus            `json:"storage"`
}

// storageStatus: degraded means writes currently land in the in-memory
// fallback and will not survive a restart.
type storageStatus struct {
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

type degradedReporter interface {
	Degraded() bool
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:   s.deps.Monitor.State(),
		Syncing: s.deps.Syncer.IsSyncing(),
		Pending: make(map[models.Kind]int),
	}

	last, ok, err := s.deps.Syncer.LastSync(r.Context())
	if err != nil {
		s.writeAppError(w, apperr.System("read last sync", err))
		return
	}
	if ok {
		resp.LastSync = &last
	}

	for _, kind := range s.deps.Syncer.Kinds() {
		n, err := s.deps.Queue.Count(r.Context(), kind)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		resp.Pending[kind] = n
	}
	resp.Storage = s.storageStatus(r.Context())

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) storageStatus(ctx context.Context) storageStatus {
	st := storageStatus{Healthy: true}
	if d, ok := s.deps.Storage.(degradedReporter); ok {
		st.Degraded = d.Degraded()
	}
	if p, ok := s.deps.Storage.(storage.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
		}
	}
	return st
}

func (s *HTTPServer) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	online := s.deps.Monitor.CheckConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"online": online,
		"state":  models.StateOf(online),
	})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Monitor.IsOnline() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  "offline, nothing was synced",
			"report": models.SyncReport{},
		})
		return
	}

	report, err := s.deps.Syncer.Drain(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) kindFromPath(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind := models.Kind(r.PathValue("kind"))
	if !slices.Contains(s.deps.Syncer.Kinds(), kind) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown operation kind %q", kind))
		return "", false
	}
	return kind, true
}

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindFromPath(w, r)
	if !ok {
		return
	}

	ops, err := s.deps.Queue.ListPending(r.Context(), kind)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "operations": ops})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindFromPath(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload := json.RawMessage(body)

	op, err := s.deps.Offline.Submit(r.Context(), kind, payload, func(ctx context.Context) error {
		_, err := resilience.Guard(ctx, s.retryPolicy(), s.deps.Retry.Timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.deps.Remote.Send(ctx, kind, payload)
		})
		return err
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	if op == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": models.StatusSynced})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": op.Status, "operation": op})
}

func (s *HTTPServer) resourceFromPath(w http.ResponseWriter, r *http.Request) (config.CacheResource, bool) {
	name := r.PathValue("name")
	idx := slices.IndexFunc(s.deps.Resources, func(res config.CacheResource) bool { return res.Name == name })
	if idx < 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", name))
		return config.CacheResource{}, false
	}
	return s.deps.Resources[idx], true
}

func (s *HTTPServer) handleResource(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resourceFromPath(w, r)
	if !ok {
		return
	}

	data, err := offline.Execute(r.Context(), s.deps.Offline, func(ctx context.Context) (json.RawMessage, error) {
		return resilience.Guard(ctx, s.retryPolicy(), s.deps.Retry.Timeout, func(ctx context.Context) (json.RawMessage, error) {
			var raw json.RawMessage
			err := s.deps.Remote.Fetch(ctx, res.Path, &raw)
			return raw, err
		})
	}, nil, res.Name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	out := map[string]any{
		"resource": res.Name,
		"state":    s.deps.Monitor.State(),
		"data":     data,
	}
	if s.deps.Cache != nil {
		if at, ok, err := s.deps.Cache.StoredAt(r.Context(), res.Name); err == nil && ok {
			out["cached_at"] = at
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInvalidate drops the cached copy so the next offline read fails
// instead of serving it.
func (s *HTTPServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resourceFromPath(w, r)
	if !ok {
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context(), res.Name); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) retryPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: s.deps.Retry.MaxAttempts, BaseDelay: s.deps.Retry.BaseDelay}
}

func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		s.log.Error().Err(err).Msg("unclassified error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindBusinessRule:
		status = http.StatusConflict
	case apperr.KindNetwork:
		status = http.StatusServiceUnavailable
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
	default:
		s.log.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, map[string]any{
		"error":   appErr.Message,
		"kind":    appErr.Kind,
		"details": publicDetails(appErr.Details),
	})
}

// publicDetails drops values that do not serialize, such as wrapped errors.
func publicDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		switch val := v.(type) {
		case error:
			out[k] = val.Error()
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = val
		}
	}
	return out
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
