package connectivity

import (
	"context"
	"sync"
	"time"

	"binsync/internal/events"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/models"

	"github.com/rs/zerolog"
)

// Prober answers whether the remote is reachable right now.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

// Listener receives every connectivity event. wasOffline is the state
// immediately before the event.
type Listener = func(isOnline, wasOffline bool)

type subscription struct {
	id int
	fn Listener
}

// Monitor owns the online flag. All mutation goes through Update.
type Monitor struct {
	prober Prober
	bus    *events.EventBus
	logger *zerolog.Logger

	// notifyMu orders whole updates, listeners included; mu guards state
	notifyMu  sync.Mutex
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners []subscription
}

// NewMonitor probes once to seed the initial state.
func NewMonitor(ctx context.Context, prober Prober, logger *zerolog.Logger, bus *events.EventBus) *Monitor {
	m := &Monitor{
		prober: prober,
		bus:    bus,
		logger: logging.Component(logger, "connectivity"),
	}
	m.online = m.probe(ctx)
	metrics.SetOnline(m.online, false)
	m.logger.Info().Str("state", string(models.StateOf(m.online))).Msg("initial connectivity")
	return m
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) State() models.ConnectivityState {
	return models.StateOf(m.IsOnline())
}

// Subscribe registers listener. The returned func removes it and may be
// called any number of times.
func (m *Monitor) Subscribe(listener Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, subscription{id: id, fn: listener})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.listeners {
				if s.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Update applies a platform connectivity event and notifies the listeners
// registered at that moment. Concurrent updates are applied one at a time,
// so listeners see events in the order the state changed. Listeners run on
// the caller's goroutine and may subscribe or unsubscribe freely, but must
// not call Update or CheckConnection.
func (m *Monitor) Update(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	wasOffline := !m.online
	changed := m.online != online
	m.online = online
	snapshot := make([]Listener, len(m.listeners))
	for i, s := range m.listeners {
		snapshot[i] = s.fn
	}
	m.mu.Unlock()

	metrics.SetOnline(online, changed)
	if changed {
		m.logger.Info().
			Str("state", string(models.StateOf(online))).
			Msg("connectivity changed")
	}

	if err := m.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityPayload{
		Online:     online,
		WasOffline: wasOffline,
		At:         time.Now().UTC(),
	}); err != nil {
		m.logger.Warn().Err(err).Msg("publish connectivity event")
	}

	for _, fn := range snapshot {
		fn(online, wasOffline)
	}
}

// CheckConnection re-probes and applies the result immediately.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	online := m.probe(ctx)
	m.Update(online)
	return online
}

// Run polls the prober until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = models.DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckConnection(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.prober == nil {
		return false
	}
	online, err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	return online
}
