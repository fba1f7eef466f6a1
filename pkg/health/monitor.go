package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/replicator/pkg/log"
	"github.com/cuemby/replicator/pkg/metrics"
	"github.com/cuemby/replicator/pkg/types"
)

// StatusStore reads and changes storage element statuses
type StatusStore interface {
	GetStorageElementStatus(ctx context.Context, se string, mode types.AccessMode) (types.SEStatus, error)
	SetStorageElementStatus(se string, mode types.AccessMode, status types.SEStatus) error
}

// Target is one storage element endpoint to probe
type Target struct {
	SE      string
	Checker Checker
}

// seMonitor tracks the probe state of a single storage element
type seMonitor struct {
	target Target
	status *Status

	// saved holds the statuses replaced by a ban, restored on recovery
	saved map[types.AccessMode]types.SEStatus
}

// Monitor probes storage element endpoints and bans an SE for reading and
// writing after Config.Retries consecutive failures. The statuses it
// replaced are restored on the first successful probe.
type Monitor struct {
	store    StatusStore
	config   Config
	monitors map[string]*seMonitor
	mu       sync.Mutex

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewMonitor creates a monitor for the given targets
func NewMonitor(store StatusStore, config Config, targets []Target) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	m := &Monitor{
		store:    store,
		config:   config,
		monitors: make(map[string]*seMonitor, len(targets)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, t := range targets {
		m.monitors[t.SE] = &seMonitor{target: t, status: NewStatus()}
		metrics.SEProbeHealthy.WithLabelValues(t.SE).Set(1)
	}
	return m
}

// Start runs the probe loop in the background
func (m *Monitor) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.run()
}

// Stop stops the probe loop and waits for it to exit
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.doneCh
	}
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			m.CheckAll(ctx)
		case <-m.stopCh:
			return
		}
	}
}

// CheckAll probes every target once, concurrently, and applies the
// resulting status transitions
func (m *Monitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, se := range m.targets() {
		mon := m.monitors[se]
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.check(ctx, mon)
		}()
	}
	wg.Wait()
}

func (m *Monitor) check(ctx context.Context, mon *seMonitor) {
	checkCtx := ctx
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}
	result := mon.target.Checker.Check(checkCtx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	logger := log.WithComponent("se-monitor").With().Str("se", mon.target.SE).Logger()
	if !mon.status.Update(result, m.config) {
		if !result.Healthy {
			logger.Debug().
				Int("failures", mon.status.ConsecutiveFailures).
				Str("result", result.Message).
				Msg("Storage element probe failed")
		}
		return
	}

	if mon.status.Healthy {
		m.restore(ctx, mon)
		metrics.SEProbeHealthy.WithLabelValues(mon.target.SE).Set(1)
		logger.Info().Str("result", result.Message).Msg("Storage element recovered")
		return
	}
	m.ban(ctx, mon)
	metrics.SEProbeHealthy.WithLabelValues(mon.target.SE).Set(0)
	logger.Warn().
		Int("failures", mon.status.ConsecutiveFailures).
		Str("result", result.Message).
		Msg("Storage element banned after failed probes")
}

func (m *Monitor) ban(ctx context.Context, mon *seMonitor) {
	mon.saved = make(map[types.AccessMode]types.SEStatus, 2)
	for _, mode := range []types.AccessMode{types.AccessRead, types.AccessWrite} {
		status, err := m.store.GetStorageElementStatus(ctx, mon.target.SE, mode)
		if err != nil {
			metrics.ObserveError(metrics.ComponentSEMonitor, err)
			continue
		}
		mon.saved[mode] = status
		if err := m.store.SetStorageElementStatus(mon.target.SE, mode, types.SEStatusBanned); err != nil {
			metrics.ObserveError(metrics.ComponentSEMonitor, err)
		}
	}
}

func (m *Monitor) restore(ctx context.Context, mon *seMonitor) {
	for mode, status := range mon.saved {
		if err := m.store.SetStorageElementStatus(mon.target.SE, mode, status); err != nil {
			metrics.ObserveError(metrics.ComponentSEMonitor, err)
		}
	}
	mon.saved = nil
}

// Healthy reports whether an SE currently passes its probes. Unknown SEs
// are reported healthy.
func (m *Monitor) Healthy(se string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[se]
	if !ok {
		return true
	}
	return mon.status.Healthy
}

func (m *Monitor) targets() []string {
	names := make([]string, 0, len(m.monitors))
	for name := range m.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
