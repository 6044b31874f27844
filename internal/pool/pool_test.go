package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urpo-dev/urpo/internal/model"
)

func TestSpanPoolTryGetReusesReleasedBuffers(t *testing.T) {
	p := NewSpanPool(2)

	h1, ok := p.TryGet()
	require.True(t, ok)
	h2, ok := p.TryGet()
	require.True(t, ok)

	_, ok = p.TryGet()
	assert.False(t, ok, "pool should be exhausted at capacity")

	h1.Span().Service = "checkout"
	h1.Release()
	h2.Release()

	stats := p.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestSpanPoolReleaseZeroesTheBuffer(t *testing.T) {
	p := NewSpanPool(1)
	h, ok := p.TryGet()
	require.True(t, ok)
	h.Span().Service = "checkout"
	h.Release()

	h2, ok := p.TryGet()
	require.True(t, ok)
	assert.Equal(t, "", h2.Span().Service)
}

func TestSpanPoolDoubleReleaseIsANoOp(t *testing.T) {
	p := NewSpanPool(1)
	h, ok := p.TryGet()
	require.True(t, ok)
	h.Release()
	assert.NotPanics(t, func() { h.Release() })
}

func TestSlotPoolWriteReadRoundTrip(t *testing.T) {
	p := NewSlotPool(1, true)
	h, err := p.Allocate()
	require.NoError(t, err)

	span := model.Span{Service: "checkout", TraceID: "abc"}
	require.NoError(t, h.Write(span))

	read, err := h.Read()
	require.NoError(t, err)
	assert.Equal(t, span, read)
}

func TestSlotPoolAllocateExhausted(t *testing.T) {
	p := NewSlotPool(1, false)
	_, err := p.Allocate()
	require.NoError(t, err)

	_, err = p.Allocate()
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

func TestSlotPoolDetectsUseAfterFreeInDebugMode(t *testing.T) {
	p := NewSlotPool(1, true)
	h, err := p.Allocate()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	h2, err := p.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, h.generation, h2.generation)

	err = h.Write(model.Span{Service: "stale"})
	assert.Error(t, err, "write through a released handle must fail")
}

func TestSlotPoolDoubleReleaseErrors(t *testing.T) {
	p := NewSlotPool(1, false)
	h, err := p.Allocate()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	err = h.Release()
	assert.Error(t, err)
}
