package httpadapter

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/infrastructure/report"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type RouterConfig struct {
	Service        string
	APIToken       string
	Trigger        ports.TriggerOptions
	HistoryLimit   int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	cfg       RouterConfig
	control   ports.WorkerControl
	workflows ports.WorkflowCatalog
	metrics   *metrics.HTTPServerMetrics
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewRouter(
	cfg RouterConfig,
	control ports.WorkerControl,
	workflows ports.WorkflowCatalog,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *zap.SugaredLogger,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Router{
		cfg:       cfg,
		control:   control,
		workflows: workflows,
		metrics:   httpMetrics,
		logger:    logger.Named("http"),
		now:       time.Now,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("GET /v1/worker/status", rt.status)
	mux.HandleFunc("POST /v1/worker/pause", rt.pause)
	mux.HandleFunc("POST /v1/worker/resume", rt.resume)
	mux.HandleFunc("POST /v1/worker/scan", rt.scan)

	mux.HandleFunc("GET /v1/queue", rt.queue)
	mux.HandleFunc("POST /v1/queue/retry", rt.retryAll)
	mux.HandleFunc("DELETE /v1/queue", rt.clearQueue)
	mux.HandleFunc("POST /v1/documents/{id}/retry", rt.retryDocument)
	mux.HandleFunc("GET /v1/skipped", rt.skipped)
	mux.HandleFunc("GET /v1/history", rt.history)
	mux.HandleFunc("GET /v1/report.xlsx", rt.report)

	mux.HandleFunc("GET /v1/workflows", rt.listWorkflows)
	mux.HandleFunc("POST /v1/workflows", rt.createWorkflow)
	mux.HandleFunc("POST /v1/workflows/validate", rt.validateSchema)
	mux.HandleFunc("GET /v1/workflows/{slug}", rt.getWorkflow)
	mux.HandleFunc("PUT /v1/workflows/{slug}", rt.updateWorkflow)
	mux.HandleFunc("DELETE /v1/workflows/{slug}", rt.deleteWorkflow)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	handler = bearerAuthMiddleware(rt.cfg.APIToken, handler)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	status, err := rt.control.Status(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) pause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	err := rt.control.Pause(r.Context(), req.Reason)
	rt.recordAction("pause", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (rt *Router) resume(w http.ResponseWriter, r *http.Request) {
	err := rt.control.Resume(r.Context())
	rt.recordAction("resume", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// scan requests a cycle and waits for it. 200 means a fresh cycle was confirmed,
// 202 means the request was recorded but not yet confirmed.
func (rt *Router) scan(w http.ResponseWriter, r *http.Request) {
	opts := rt.cfg.Trigger
	var err error
	if opts.Timeout, err = durationParam(r, "timeout", opts.Timeout); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if opts.MinWait, err = durationParam(r, "min_wait", opts.MinWait); err != nil {
		rt.writeError(w, r, err)
		return
	}

	result, err := rt.control.TriggerScanAndWait(r.Context(), opts)
	rt.recordAction("scan", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if result.Confirmed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (rt *Router) queue(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.control.Queue(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (rt *Router) retryAll(w http.ResponseWriter, r *http.Request) {
	n, err := rt.control.RetryAll(r.Context())
	rt.recordAction("retry_all", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (rt *Router) clearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := rt.control.ClearQueue(r.Context())
	rt.recordAction("clear_queue", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (rt *Router) retryDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "retry document", errors.Newf("invalid document id %q", r.PathValue("id"))))
		return
	}
	strategy, err := domain.ParseRetryStrategy(strings.ToLower(r.URL.Query().Get("strategy")), "")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	outcome, err := rt.control.RetryOne(r.Context(), id, strategy)
	rt.recordAction("retry_document", err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "outcome": outcome})
}

func (rt *Router) skipped(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.control.Skipped(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "list history", errors.Newf("invalid limit %q", raw)))
			return
		}
		limit = n
	}
	records, err := rt.control.History(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (rt *Router) report(w http.ResponseWriter, r *http.Request) {
	data, err := report.Collect(r.Context(), rt.control, rt.cfg.HistoryLimit, rt.now())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, data); err != nil {
		rt.writeError(w, r, err)
		return
	}
	filename := "docflow-report-" + data.GeneratedAt.Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := rt.workflows.List(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(workflows))
}

func (rt *Router) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := rt.workflows.Get(r.Context(), r.PathValue("slug"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (rt *Router) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf domain.Workflow
	if err := decodeJSON(r, &wf); err != nil {
		rt.writeError(w, r, err)
		return
	}
	created, err := rt.workflows.Create(r.Context(), wf)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/workflows/"+created.Slug)
	writeJSON(w, http.StatusCreated, created)
}

func (rt *Router) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf domain.Workflow
	if err := decodeJSON(r, &wf); err != nil {
		rt.writeError(w, r, err)
		return
	}
	updated, err := rt.workflows.Update(r.Context(), r.PathValue("slug"), wf)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rt *Router) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := rt.workflows.Delete(r.Context(), r.PathValue("slug")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) validateSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Schema string `json:"schema"`
	}
	if err := decodeJSON(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.workflows.ValidateSchema(req.Schema))
}

func (rt *Router) recordAction(action string, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordControlAction(rt.cfg.Service, action, err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	requestID := requestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		rt.logger.Errorw("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, out)
}

func durationParam(r *http.Request, name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse "+name, errors.Newf("invalid duration %q", raw))
	}
	return d, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
