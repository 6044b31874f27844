package fakespans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/logging"
	"github.com/urpo-dev/urpo/internal/store"
)

func TestEmitTraceStoresSpans(t *testing.T) {
	st := store.New(store.DefaultConfig(), intern.New(), nil)
	cfg := DefaultConfig()
	cfg.MaxSpansPerTrace = 3
	g := New(cfg, st, logging.Nop())

	g.emitTrace(time.Now())

	stats := st.Stats()
	assert.GreaterOrEqual(t, stats.SpanCount, 1)
	assert.LessOrEqual(t, stats.SpanCount, cfg.MaxSpansPerTrace)
	assert.Equal(t, 1, stats.TraceCount)
}

func TestEmitTraceUsesDistinctTraceIDs(t *testing.T) {
	st := store.New(store.DefaultConfig(), intern.New(), nil)
	g := New(DefaultConfig(), st, logging.Nop())

	g.emitTrace(time.Now())
	g.emitTrace(time.Now())

	assert.Equal(t, 2, st.Stats().TraceCount)
}
