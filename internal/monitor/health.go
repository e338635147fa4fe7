package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Provider liveness states reported to status callbacks
const (
	StatusNormal      = "Normal"
	StatusUnavailable = "Unavailable"
)

// Prober is a best-effort liveness check
type Prober interface {
	Healthy(ctx context.Context) bool
}

// StatusCallback is invoked when a provider's liveness state changes
type StatusCallback func(providerID, status string)

// HealthMonitor polls a provider and notifies callbacks on state transitions
type HealthMonitor struct {
	providerID   string
	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.RWMutex
	status    string
	callbacks []StatusCallback
}

// NewHealthMonitor creates a new health monitor for one provider
func NewHealthMonitor(providerID string, prober Prober, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	probeTimeout := 5 * time.Second
	if interval < probeTimeout {
		probeTimeout = interval
	}
	return &HealthMonitor{
		providerID:   providerID,
		prober:       prober,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// RegisterStatusCallback adds a callback for status changes
func (m *HealthMonitor) RegisterStatusCallback(callback StatusCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Status returns the last observed status, or "" before the first probe
func (m *HealthMonitor) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Check probes the provider once and notifies callbacks if the status changed
func (m *HealthMonitor) Check(ctx context.Context) string {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	healthy := m.prober.Healthy(probeCtx)
	cancel()

	status := StatusUnavailable
	if healthy {
		status = StatusNormal
	}

	m.mu.Lock()
	previous := m.status
	m.status = status
	callbacks := append([]StatusCallback(nil), m.callbacks...)
	m.mu.Unlock()

	if status == previous {
		return status
	}

	m.logger.Info("Provider status changed",
		"provider", m.providerID,
		"previous", previous,
		"status", status)

	for _, callback := range callbacks {
		callback(m.providerID, status)
	}
	return status
}

// Run probes immediately and then on every interval until ctx is cancelled
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped", "provider", m.providerID)
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
