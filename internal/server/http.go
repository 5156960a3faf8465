package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jnkforks/CallRecorder/internal/audio"
	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/capture"
	"github.com/jnkforks/CallRecorder/internal/config"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/mp3"
	"github.com/jnkforks/CallRecorder/internal/prefs"
	"github.com/jnkforks/CallRecorder/internal/recording"
	"github.com/jnkforks/CallRecorder/internal/storage"
)

// RecordingStore is the part of storage.Recordings the API serves.
type RecordingStore interface {
	Get(ctx context.Context, id int64) (storage.Recording, error)
	List(ctx context.Context) ([]storage.Recording, error)
	DeleteRecording(ctx context.Context, ids []int64) error
	TrimSilenceEnds(ctx context.Context, id int64) (storage.Recording, error)
	ConvertToMp3(ctx context.Context, id int64) (string, error)
	ToggleStar(ctx context.Context, ids []int64) error
	ToggleSkipAutoDelete(ctx context.Context, ids []int64) error
	UpdateContactNames(ctx context.Context) (int64, error)
	GetRecording(ctx context.Context, id int64) (<-chan storage.Recording, error)
	GetRecordingList(ctx context.Context) (<-chan []storage.Recording, error)
}

// SettingsStore reads and updates recording preferences.
type SettingsStore interface {
	Get() prefs.Settings
	Update(fn func(*prefs.Settings)) (prefs.Settings, error)
}

// CaptureStatus reports the capture in progress.
type CaptureStatus interface {
	Active() (recording.Active, bool)
}

// CallStateSource reports the last carrier call state.
type CallStateSource interface {
	CallState() callstate.State
}

// ContactRefresher drops cached contact names and reloads them.
type ContactRefresher interface {
	Refresh(ctx context.Context, numbers []string) error
}

// HTTPDeps are the collaborators of the HTTP API. CallState, Contacts, UDP,
// Auth and Gatherer may be nil.
type HTTPDeps struct {
	Recordings RecordingStore
	Settings   SettingsStore
	Capture    CaptureStatus
	CallState  CallStateSource
	Contacts   ContactRefresher
	UDP        *UDPServer
	Auth       *Authenticator
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// HTTPServer provides the recording management API
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	deps    HTTPDeps
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, deps HTTPDeps) *HTTPServer {
	h := &HTTPServer{
		logger:    deps.Logger.With("component", "http_server"),
		deps:      deps,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // mp3 export runs inside the request
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	h.route(mux, "GET /recordings", "/recordings", h.handleList)
	h.route(mux, "GET /recordings/watch", "/recordings/watch", h.handleWatchList)
	h.route(mux, "GET /recordings/{id}", "/recordings/{id}", h.handleGet)
	h.route(mux, "GET /recordings/{id}/watch", "/recordings/{id}/watch", h.handleWatchOne)
	h.route(mux, "DELETE /recordings", "/recordings", h.handleDelete)
	h.route(mux, "POST /recordings/{id}/trim", "/recordings/{id}/trim", h.handleTrim)
	h.route(mux, "POST /recordings/{id}/mp3", "/recordings/{id}/mp3", h.handleConvert)
	h.route(mux, "POST /recordings/star", "/recordings/star", h.handleToggle(h.deps.Recordings.ToggleStar))
	h.route(mux, "POST /recordings/skip-auto-delete", "/recordings/skip-auto-delete",
		h.handleToggle(h.deps.Recordings.ToggleSkipAutoDelete))
	h.route(mux, "POST /contacts/refresh", "/contacts/refresh", h.handleRefreshContacts)
	h.route(mux, "GET /settings", "/settings", h.handleGetSettings)
	h.route(mux, "PUT /settings", "/settings", h.handlePutSettings)
	h.route(mux, "GET /capture", "/capture", h.handleCapture)

	if h.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

func (h *HTTPServer) route(mux *http.ServeMux, pattern, endpoint string, handler http.HandlerFunc) {
	mux.Handle(pattern, h.deps.Auth.middleware(h.withMetrics(endpoint, handler)))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets websocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrMalformedHeader):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusConflict
	case errors.Is(err, mp3.ErrEncoderFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPServer) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("Request failed",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid recording id %q", r.PathValue("id"))
	}
	return id, nil
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

func decodeIDs(r *http.Request) ([]int64, error) {
	var req idsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.IDs) == 0 {
		return nil, errors.New("ids cannot be empty")
	}
	return req.IDs, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]any{}
	if h.deps.UDP != nil {
		components["udp_server"] = h.deps.UDP.GetStatistics()
	}
	if h.deps.CallState != nil {
		components["call_state"] = h.deps.CallState.CallState().String()
	}
	_, capturing := h.deps.Capture.Active()
	components["capturing"] = capturing

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"components": components,
	})
}

// handleList implements GET /recordings?filter=all|incoming|outgoing|starred
func (h *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := storage.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.deps.Recordings.List(r.Context())
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	list = filter.Apply(list)

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(list),
		"filter":     filter,
		"recordings": list,
	})
}

func (h *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Recordings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deps.Recordings.DeleteRecording(r.Context(), ids); err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleTrim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Recordings.TrimSilenceEnds(r.Context(), id)
	if err != nil {
		h.fail(w, r, "trim", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := h.deps.Recordings.ConvertToMp3(r.Context(), id)
	if err != nil {
		h.fail(w, r, "convert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "mp3_path": path})
}

func (h *HTTPServer) handleToggle(toggle func(context.Context, []int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := decodeIDs(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := toggle(r.Context(), ids); err != nil {
			h.fail(w, r, "toggle", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *HTTPServer) handleRefreshContacts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Contacts != nil {
		list, err := h.deps.Recordings.List(r.Context())
		if err != nil {
			h.fail(w, r, "refresh_contacts", err)
			return
		}
		numbers := make([]string, 0, len(list))
		seen := make(map[string]bool, len(list))
		for _, rec := range list {
			if rec.Number != "" && !seen[rec.Number] {
				seen[rec.Number] = true
				numbers = append(numbers, rec.Number)
			}
		}
		// Lookup failures leave those numbers uncached; renaming still runs.
		if err := h.deps.Contacts.Refresh(r.Context(), numbers); err != nil {
			h.logger.Warn("Contact refresh incomplete", slog.String("error", err.Error()))
		}
	}

	updated, err := h.deps.Recordings.UpdateContactNames(r.Context())
	if err != nil {
		h.fail(w, r, "refresh_contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Settings.Get())
}

// handlePutSettings applies a partial JSON document on top of the current settings.
func (h *HTTPServer) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings: %v", err))
		return
	}

	// decode onto the settings held under the store lock
	var decodeErr error
	saved, err := h.deps.Settings.Update(func(s *prefs.Settings) {
		next := *s
		if decodeErr = json.Unmarshal(body, &next); decodeErr == nil {
			*s = next
		}
	})
	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings: %v", decodeErr))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *HTTPServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"active": false}
	if h.deps.CallState != nil {
		resp["call_state"] = h.deps.CallState.CallState().String()
	}
	if active, ok := h.deps.Capture.Active(); ok {
		resp["active"] = true
		resp["capture"] = active
	}
	writeJSON(w, http.StatusOK, resp)
}
