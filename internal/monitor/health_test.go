package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockProber returns a configurable liveness result
type MockProber struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (m *MockProber) Healthy(ctx context.Context) bool {
	m.calls.Add(1)
	return m.healthy.Load()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedStatus struct {
	provider string
	status   string
}

func TestHealthMonitor_CheckNotifiesOnTransitions(t *testing.T) {
	prober := &MockProber{}
	prober.healthy.Store(true)
	monitor := NewHealthMonitor("ollama", prober, time.Minute, testLogger())

	var got []recordedStatus
	monitor.RegisterStatusCallback(func(providerID, status string) {
		got = append(got, recordedStatus{providerID, status})
	})

	assert.Equal(t, "", monitor.Status())

	assert.Equal(t, StatusNormal, monitor.Check(context.Background()))
	assert.Equal(t, StatusNormal, monitor.Check(context.Background()))

	prober.healthy.Store(false)
	assert.Equal(t, StatusUnavailable, monitor.Check(context.Background()))
	assert.Equal(t, StatusUnavailable, monitor.Status())

	prober.healthy.Store(true)
	monitor.Check(context.Background())

	assert.Equal(t, []recordedStatus{
		{"ollama", StatusNormal},
		{"ollama", StatusUnavailable},
		{"ollama", StatusNormal},
	}, got)
}

func TestHealthMonitor_RunStopsOnCancel(t *testing.T) {
	prober := &MockProber{}
	monitor := NewHealthMonitor("ollama", prober, 10*time.Millisecond, testLogger())

	var mu sync.Mutex
	var statuses []string
	monitor.RegisterStatusCallback(func(_, status string) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, status)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.GreaterOrEqual(t, prober.calls.Load(), int32(2))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, 1)
	assert.Equal(t, StatusUnavailable, statuses[0])
}
