package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/provider"
	"github.com/stapel-ai/stapel/pkg/storage"
	"github.com/stapel-ai/stapel/pkg/transport"
)

// ModelLister exposes the backend's model catalog to the models endpoint.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.ModelInfo, error)
}

// Adapter serves the batch completion API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	runner   transport.BatchRunner
	streamer transport.StreamRunner
	store    transport.RunStore // nil if stateless-only
	models   ModelLister        // nil if the backend has no catalog
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr        string
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		MaxBodySize: 10 << 20, // 10 MB
	}
}

// NewAdapter creates an HTTP adapter. The store and model lister are
// optional; when nil, the corresponding endpoints report the operation
// as not available. Middleware is applied to the batch runner in the
// given order.
func NewAdapter(runner transport.BatchRunner, streamer transport.StreamRunner, store transport.RunStore, models ModelLister, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		runner = transport.Chain(middlewares...)(runner)
	}

	a := &Adapter{
		runner:   runner,
		streamer: streamer,
		store:    store,
		models:   models,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/completions/batch", a.handleBatch)
	a.mux.HandleFunc("POST /v1/completions/stream", a.handleStream)
	a.mux.HandleFunc("GET /v1/runs", a.handleListRuns)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("DELETE /v1/runs/{id}", a.handleDeleteRun)
	a.mux.HandleFunc("GET /v1/models", a.handleListModels)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// CancelInFlight cancels every active stream. Called during shutdown.
func (a *Adapter) CancelInFlight() int {
	return a.inflight.CancelAll()
}

// httpRequestIDMiddleware propagates the X-Request-ID header. If present
// in the request it is forwarded into the context; the response header is
// set from the context before the first write.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// decodeJSONBody validates the content type, limits the body size, and
// decodes the request body into dst. On failure it writes the error
// response itself and returns false.
func (a *Adapter) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}
	return true
}

// handleBatch handles POST /v1/completions/batch.
func (a *Adapter) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}

	rw := &jsonRunWriter{w: w}
	if err := a.runner.RunBatch(r.Context(), &req, rw); err != nil {
		a.writeBatchError(w, rw, err)
	}
}

// handleStream handles POST /v1/completions/stream.
func (a *Adapter) handleStream(w http.ResponseWriter, r *http.Request) {
	var req api.StreamRequest
	if !a.decodeJSONBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := transport.RequestIDFromContext(ctx)
	if id == "" {
		id = transport.NewRequestID()
	}
	a.inflight.Register(id, cancel)
	defer a.inflight.Remove(id)

	fw := newSSEFrameWriter(w)
	if err := a.streamer.RunStream(ctx, &req, fw); err != nil {
		a.writeStreamError(w, fw, err)
	}
}

// handleGetRun handles GET /v1/runs/{id}.
func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "run retrieval is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed run ID"),
			http.StatusBadRequest,
		)
		return
	}

	run, err := a.store.GetRun(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// handleDeleteRun handles DELETE /v1/runs/{id}.
func (a *Adapter) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "run deletion is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed run ID"),
			http.StatusBadRequest,
		)
		return
	}

	if err := a.store.DeleteRun(r.Context(), id); err != nil {
		a.writeStoreError(w, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListRuns handles GET /v1/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "run listing is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	opts, optErr := parseListOptions(r)
	if optErr != nil {
		transport.WriteErrorResponse(w, optErr, http.StatusBadRequest)
		return
	}

	result, err := a.store.ListRuns(r.Context(), opts)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			transport.WriteAPIError(w, apiErr)
		} else {
			transport.WriteAPIError(w, api.NewServerError(err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleListModels handles GET /v1/models.
func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	if a.models == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "model listing is not available"),
			http.StatusNotImplemented,
		)
		return
	}

	models, err := a.models.ListModels(r.Context())
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			transport.WriteAPIError(w, apiErr)
		} else {
			transport.WriteAPIError(w, api.NewServerError(err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleHealth handles GET /healthz. Liveness only; always OK while the
// process can serve requests.
func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReady handles GET /readyz. Checks the store connection when one
// is configured.
func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			transport.WriteErrorResponse(w,
				api.NewServerError("store not ready: "+err.Error()),
				http.StatusServiceUnavailable,
			)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

// parseListOptions extracts pagination and filter parameters from the
// query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Model:  q.Get("model"),
		Status: q.Get("status"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	switch opts.Status {
	case "", string(api.RunStatusCompleted), string(api.RunStatusPartial), string(api.RunStatusFailed):
	default:
		return opts, api.NewInvalidRequestError("status", "unknown status filter")
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeStoreError maps store lookup failures onto API errors.
func (a *Adapter) writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("run "+id+" not found"))
		return
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		transport.WriteAPIError(w, apiErr)
		return
	}
	transport.WriteAPIError(w, api.NewServerError(err.Error()))
}

// writeBatchError writes a batch handler error. The run body has not been
// written yet when the handler returns an error, so a plain JSON error
// response is always safe.
func (a *Adapter) writeBatchError(w http.ResponseWriter, rw *jsonRunWriter, err error) {
	if rw.written {
		// The run body already went out; nothing sensible left to send.
		return
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}
	transport.WriteAPIError(w, apiErr)
}

// writeStreamError writes a stream handler error. Before the first frame
// the error maps to an HTTP status; afterwards it goes in-band as an
// error frame.
func (a *Adapter) writeStreamError(w http.ResponseWriter, fw *sseFrameWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}

	if fw.hasStarted() {
		fw.WriteFrame(map[string]any{"error": apiErr.Message})
		fw.WriteFrame(map[string]any{"type": "end"})
		return
	}

	transport.WriteAPIError(w, apiErr)
}
