package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitor_SampleDerivesThroughput(t *testing.T) {
	eng := newTestEngine(t, Config{Partitions: 1})
	ctx := waitCtx(t)

	m := NewMonitor(eng, time.Hour, zap.NewNop())
	// Pretend the window opened a second ago so the rate equals the
	// commands processed since.
	m.lastSample = time.Now().Add(-time.Second)
	m.lastProcessed = 0

	const orders = 10
	for i := 0; i < orders; i++ {
		_, err := eng.SubmitOrderWait(ctx, "", buyReq(1, uint64(100000+25*i), 1))
		require.NoError(t, err)
	}

	m.sample()
	got := m.Throughput()
	assert.Greater(t, got, int64(0))
	assert.LessOrEqual(t, got, int64(orders), "ten commands over at least a second")
	assert.Equal(t, int64(orders), m.lastProcessed, "the window rolls forward")
}

func TestMonitor_SecondWindowCountsOnlyNewCommands(t *testing.T) {
	eng := newTestEngine(t, Config{Partitions: 1})
	ctx := waitCtx(t)

	m := NewMonitor(eng, time.Hour, zap.NewNop())
	m.lastSample = time.Now().Add(-time.Second)

	_, err := eng.SubmitOrderWait(ctx, "", buyReq(1, 100100, 1))
	require.NoError(t, err)
	m.sample()
	require.Equal(t, int64(1), m.lastProcessed)

	// No commands since the last sample; the rate decays to zero.
	m.lastSample = time.Now().Add(-time.Second)
	m.sample()
	assert.Zero(t, m.Throughput())
}

func TestMonitor_StartStop(t *testing.T) {
	eng := newTestEngine(t, Config{Partitions: 1})

	m := NewMonitor(eng, 10*time.Millisecond, zap.NewNop())
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop() // idempotent
}

func TestMonitor_DefaultInterval(t *testing.T) {
	eng := newTestEngine(t, Config{Partitions: 1})
	m := NewMonitor(eng, 0, zap.NewNop())
	assert.Equal(t, DefaultSampleInterval, m.interval)
}
