// Package fakespans implements a bounded synthetic span generator, gated
// by config.features.enable_fake_spans, for demoing or load-shaping the
// store without a live OTLP producer. Grounded on
// cmd/tempo-vulture/vulture.go's ticker-driven generateShortSpans/
// generateLongSpans loops, adapted to write straight into the store
// instead of round-tripping through a real OTLP exporter.
package fakespans

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/urpo-dev/urpo/internal/model"
	"github.com/urpo-dev/urpo/internal/sampling"
	"github.com/urpo-dev/urpo/internal/store"
)

var defaultServices = []string{"checkout", "payments", "inventory", "shipping", "frontend"}
var defaultOperations = []string{"handle", "query", "publish", "render", "authorize"}

// Config tunes the generator's traffic shape.
type Config struct {
	Interval      time.Duration
	ErrorRate     float64 // 0..1, fraction of traces tagged StatusError
	MaxSpansPerTrace int
	Services      []string
	Operations    []string
}

// DefaultConfig produces a light, steady trickle of traces.
func DefaultConfig() Config {
	return Config{
		Interval:         500 * time.Millisecond,
		ErrorRate:        0.05,
		MaxSpansPerTrace: 4,
		Services:         defaultServices,
		Operations:       defaultOperations,
	}
}

// Generator periodically synthesizes a trace and stores it directly,
// bypassing the OTLP receiver entirely.
type Generator struct {
	cfg   Config
	store *store.Store
	log   *zap.Logger
	rnd   *rand.Rand
	mu    sync.Mutex

	seq int64
}

// New builds a Generator over st using cfg.
func New(cfg Config, st *store.Store, log *zap.Logger) *Generator {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	return &Generator{
		cfg:   cfg,
		store: st,
		log:   log,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run synthesizes traces on cfg.Interval until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.emitTrace(now)
		}
	}
}

func (g *Generator) nextSeq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

func (g *Generator) emitTrace(now time.Time) {
	traceID := fmt.Sprintf("fake%012x", g.nextSeq())
	spanCount := 1 + g.rnd.Intn(g.cfg.MaxSpansPerTrace)
	hasError := g.rnd.Float64() < g.cfg.ErrorRate

	start := now
	var parent string
	for i := 0; i < spanCount; i++ {
		svc := g.cfg.Services[g.rnd.Intn(len(g.cfg.Services))]
		op := g.cfg.Operations[g.rnd.Intn(len(g.cfg.Operations))]
		duration := time.Duration(1+g.rnd.Intn(200)) * time.Millisecond

		span := &model.Span{
			TraceID:           traceID,
			SpanID:            fmt.Sprintf("s%015x", g.nextSeq()),
			ParentSpanID:      parent,
			Service:           svc,
			Operation:         op,
			Kind:              model.KindServer,
			StartTimeUnixNano: start.UnixNano(),
			DurationNano:      int64(duration),
			Status:            model.Status{Code: model.StatusOk},
		}
		if hasError && i == spanCount-1 {
			span.Status = model.Status{Code: model.StatusError, Message: "synthetic failure"}
		}

		if err := g.store.Store(span, sampling.PriorityMinimal); err != nil {
			g.log.Debug("fake span dropped", zap.Error(err))
		}

		parent = span.SpanID
		start = start.Add(duration / 2)
	}
}
