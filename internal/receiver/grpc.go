package receiver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
)

// GRPCServer is the OTLP/gRPC transport (spec.md §4.5, §6): a plain
// google.golang.org/grpc.Server with the three OTLP collector services
// registered against the shared Orchestrator.
type GRPCServer struct {
	log     *zap.Logger
	orch    *Orchestrator
	limiter *Limiter
	srv     *grpc.Server
}

// NewGRPCServer builds the gRPC server without starting to listen.
func NewGRPCServer(log *zap.Logger, orch *Orchestrator, limiter *Limiter) *GRPCServer {
	g := &GRPCServer{log: log, orch: orch, limiter: limiter}
	g.srv = grpc.NewServer()
	ptraceotlp.RegisterGRPCServer(g.srv, (*traceService)(g))
	pmetricotlp.RegisterGRPCServer(g.srv, (*metricService)(g))
	plogotlp.RegisterGRPCServer(g.srv, (*logService)(g))
	return g
}

// Serve blocks accepting connections on lis until the server is stopped.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.srv.Serve(lis)
}

// Stop gracefully stops the server.
func (g *GRPCServer) Stop() {
	g.srv.GracefulStop()
}

type traceService GRPCServer

func (t *traceService) Export(ctx context.Context, req ptraceotlp.ExportRequest) (ptraceotlp.ExportResponse, error) {
	resp := ptraceotlp.NewExportResponse()
	release, err := t.limiter.Acquire(ctx)
	if err != nil {
		return resp, status.Error(codes.ResourceExhausted, err.Error())
	}
	defer release()

	rejected := t.orch.IngestTraces(req.Traces(), time.Now())
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedSpans(int64(rejected))
		resp.PartialSuccess().SetErrorMessage("some spans were rejected; see decode_errors and queue_rejected counters")
	}
	return resp, nil
}

type metricService GRPCServer

func (m *metricService) Export(ctx context.Context, req pmetricotlp.ExportRequest) (pmetricotlp.ExportResponse, error) {
	resp := pmetricotlp.NewExportResponse()
	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		return resp, status.Error(codes.ResourceExhausted, err.Error())
	}
	defer release()

	m.orch.IngestMetrics(req.Metrics())
	return resp, nil
}

type logService GRPCServer

func (l *logService) Export(ctx context.Context, req plogotlp.ExportRequest) (plogotlp.ExportResponse, error) {
	resp := plogotlp.NewExportResponse()
	release, err := l.limiter.Acquire(ctx)
	if err != nil {
		return resp, status.Error(codes.ResourceExhausted, err.Error())
	}
	defer release()

	l.orch.IngestLogs(req.Logs())
	return resp, nil
}
