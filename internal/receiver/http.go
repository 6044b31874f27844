package receiver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"

	"github.com/urpo-dev/urpo/internal/store"
)

// HTTPServer is the OTLP/HTTP transport (spec.md §4.5, §6): gorilla/mux
// routes for /v1/traces, /v1/metrics, /v1/logs, and the plain-JSON
// /health endpoint.
type HTTPServer struct {
	log     *zap.Logger
	orch    *Orchestrator
	store   *store.Store
	limiter *Limiter
	started time.Time
	prom    *promCollectors

	srv *http.Server
}

// NewHTTPServer builds the mux router and wraps it in an *http.Server
// bound to addr; call Serve to start accepting connections.
func NewHTTPServer(addr string, log *zap.Logger, orch *Orchestrator, st *store.Store, limiter *Limiter) *HTTPServer {
	h := &HTTPServer{log: log, orch: orch, store: st, limiter: limiter, started: time.Now(), prom: newPromCollectors(orch)}

	r := mux.NewRouter()
	r.HandleFunc("/v1/traces", h.handleTraces).Methods(http.MethodPost)
	r.HandleFunc("/v1/metrics", h.handleMetrics).Methods(http.MethodPost)
	r.HandleFunc("/v1/logs", h.handleLogs).Methods(http.MethodPost)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", h.prometheusHandler()).Methods(http.MethodGet)

	h.srv = &http.Server{Addr: addr, Handler: r}
	return h
}

func (h *HTTPServer) prometheusHandler() http.Handler {
	inner := h.prom.handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.prom.refresh()
		inner.ServeHTTP(w, r)
	})
}

// Serve blocks accepting connections until the server is shut down.
func (h *HTTPServer) Serve() error {
	return h.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func isJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "json")
}

// requestID tags a single inbound export call for correlating its log
// lines, preferring a caller-supplied value so traces can be followed
// across a load balancer that already assigns one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (h *HTTPServer) handleTraces(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	defer release()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req := ptraceotlp.NewExportRequest()
	if isJSON(r) {
		err = req.UnmarshalJSON(body)
	} else {
		err = req.UnmarshalProto(body)
	}
	if err != nil {
		http.Error(w, "malformed OTLP traces payload", http.StatusBadRequest)
		return
	}

	h.log.Debug("ingesting traces", zap.String("request_id", reqID))
	rejected := h.orch.IngestTraces(req.Traces(), time.Now())
	resp := ptraceotlp.NewExportResponse()
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedSpans(int64(rejected))
	}
	writeOTLPResponse(w, r, resp.MarshalProto, resp.MarshalJSON, isJSON(r))
}

func (h *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	defer release()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req := pmetricotlp.NewExportRequest()
	if isJSON(r) {
		err = req.UnmarshalJSON(body)
	} else {
		err = req.UnmarshalProto(body)
	}
	if err != nil {
		http.Error(w, "malformed OTLP metrics payload", http.StatusBadRequest)
		return
	}

	h.log.Debug("ingesting metrics", zap.String("request_id", reqID))
	h.orch.IngestMetrics(req.Metrics())
	resp := pmetricotlp.NewExportResponse()
	writeOTLPResponse(w, r, resp.MarshalProto, resp.MarshalJSON, isJSON(r))
}

func (h *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	defer release()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req := plogotlp.NewExportRequest()
	if isJSON(r) {
		err = req.UnmarshalJSON(body)
	} else {
		err = req.UnmarshalProto(body)
	}
	if err != nil {
		http.Error(w, "malformed OTLP logs payload", http.StatusBadRequest)
		return
	}

	h.log.Debug("ingesting logs", zap.String("request_id", reqID))
	h.orch.IngestLogs(req.Logs())
	resp := plogotlp.NewExportResponse()
	writeOTLPResponse(w, r, resp.MarshalProto, resp.MarshalJSON, isJSON(r))
}

func writeOTLPResponse(w http.ResponseWriter, r *http.Request, marshalProto, marshalJSON func() ([]byte, error), asJSON bool) {
	var (
		body []byte
		err  error
	)
	if asJSON {
		w.Header().Set("Content-Type", "application/json")
		body, err = marshalJSON()
	} else {
		w.Header().Set("Content-Type", "application/x-protobuf")
		body, err = marshalProto()
	}
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type healthResponse struct {
	Status      string  `json:"status"`
	UptimeS     float64 `json:"uptime_s"`
	SpansStored int     `json:"spans_stored"`
	MemoryMB    float64 `json:"memory_mb"`
	MemoryHuman string  `json:"memory_human"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	resp := healthResponse{
		Status:      "ok",
		UptimeS:     time.Since(h.started).Seconds(),
		SpansStored: stats.SpanCount,
		MemoryMB:    stats.MemoryMB,
		MemoryHuman: humanize.Bytes(uint64(stats.MemoryBytes)),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
