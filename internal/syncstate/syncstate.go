// Package syncstate tracks whether cloud sync is working by polling the
// availability prober.
package syncstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/events"
	"github.com/vbonduro/cubby/internal/metrics"
)

const DefaultInterval = 30 * time.Second

type Checker interface {
	Check(ctx context.Context, override *domain.Availability) domain.Availability
}

// Lifecycle is the foreground state reported by the presentation layer.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleInactive   Lifecycle = "inactive"
	LifecycleBackground Lifecycle = "background"
)

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleActive, LifecycleInactive, LifecycleBackground:
		return true
	}
	return false
}

type Options struct {
	Enabled  bool
	Interval time.Duration
	// Override, when set, is passed to every probe.
	Override *domain.Availability
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Machine struct {
	checker  Checker
	interval time.Duration
	override *domain.Availability
	enabled  bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
	updates  *events.Broadcaster[domain.SyncState]

	mu         sync.Mutex
	state      domain.SyncState
	running    bool
	cancel     context.CancelFunc
	generation uint64
}

func New(checker Checker, opts Options) *Machine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Machine{
		checker:  checker,
		interval: opts.Interval,
		override: opts.Override,
		enabled:  opts.Enabled,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		updates:  events.NewBroadcaster[domain.SyncState](8),
	}
	if opts.Enabled {
		m.state.Mode = domain.SyncChecking
	} else {
		m.state.Mode = domain.SyncDisabled
	}
	return m
}

func (m *Machine) State() domain.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

// Subscribe delivers every state change after the call.
func (m *Machine) Subscribe() (<-chan domain.SyncState, func()) {
	return m.updates.Subscribe()
}

// Start begins polling and returns at once; the first probe runs on the
// polling goroutine. Start on a running or disabled machine does nothing.
func (m *Machine) Start() {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.generation++
	gen := m.generation

	if m.state.LastSyncEventAt == nil {
		m.state.Mode = domain.SyncChecking
	} else {
		m.state.Mode = domain.SyncSyncing
	}
	m.state.Reason = ""
	m.updates.Publish(copyState(m.state))

	go m.poll(ctx, gen)
}

// Stop halts polling. A probe already in flight finishes but its result is
// discarded.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.cancel = nil
	m.generation++
}

func (m *Machine) SetLifecycle(l Lifecycle) {
	if l == LifecycleActive {
		m.Start()
		return
	}
	m.Stop()
}

// RefreshNow runs one probe in the background.
func (m *Machine) RefreshNow() {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	go func() {
		result := m.checker.Check(context.Background(), m.override)
		m.apply(gen, result)
	}()
}

// RecordSyncEvent notes that data was exchanged with the cloud at t.
func (m *Machine) RecordSyncEvent(t time.Time) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t = t.UTC()
	m.state.LastSyncEventAt = &t
	m.updates.Publish(copyState(m.state))
}

// RecordError keeps the latest sync failure for display.
func (m *Machine) RecordError(err error) {
	if !m.enabled || err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastError = err.Error()
	m.updates.Publish(copyState(m.state))
}

func (m *Machine) poll(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		result := m.checker.Check(ctx, m.override)
		if ctx.Err() != nil {
			return
		}
		m.apply(gen, result)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Machine) apply(gen uint64, result domain.Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}

	next := transition(m.state, result, time.Now().UTC())
	m.metrics.SyncProbe(string(next.Mode))
	if next.Mode != m.state.Mode {
		m.logger.Info("sync state changed", "from", m.state.Mode, "to", next.Mode, "availability", result.String())
	}
	m.state = next
	m.updates.Publish(copyState(m.state))
}

// transition applies one probe result to an enabled machine's state.
func transition(s domain.SyncState, result domain.Availability, now time.Time) domain.SyncState {
	if result.Available {
		s.Mode = domain.SyncSynced
		s.Reason = ""
		s.LastSyncEventAt = &now
		s.LastError = ""
		return s
	}

	switch result.Reason {
	case domain.ReasonTemporarilyUnavailable, domain.ReasonError:
		s.Mode = domain.SyncOffline
		s.Reason = result.Reason
	default:
		s.Mode = domain.SyncICloudUnavailable
		s.Reason = result.Reason
	}
	return s
}

func copyState(s domain.SyncState) domain.SyncState {
	if s.LastSyncEventAt != nil {
		t := *s.LastSyncEventAt
		s.LastSyncEventAt = &t
	}
	return s
}
