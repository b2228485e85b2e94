// Package connwatch tracks whether the model backend and the queried
// database are reachable.
//
// A request that hits an unreachable backend still fails on its own with
// a precise reason. connwatch exists for the slower picture: it keeps
// probing in the background, feeds /health and the service_ready gauge,
// and logs each up/down transition once instead of once per request.
//
// Each service is probed in two phases. At startup the probe is retried
// with exponential backoff until it succeeds or the attempt budget runs
// out. After that it is polled on a fixed interval.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls how often a service is probed.
type Schedule struct {
	// InitialDelay is the first startup retry delay. Later delays double
	// up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// StartupAttempts bounds the backoff phase.
	StartupAttempts uint
	// PollInterval spaces background probes once startup is over.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// Jitter randomizes startup delays by up to this fraction. Zero
	// gives an exact doubling sequence.
	Jitter float64
}

// DefaultSchedule retries at 2s, 4s, 8s ... capped at 60s for ten
// attempts, then polls once a minute.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay:    2 * time.Second,
		MaxDelay:        60 * time.Second,
		StartupAttempts: 10,
		PollInterval:    60 * time.Second,
		ProbeTimeout:    10 * time.Second,
		Jitter:          0.2,
	}
}

// withDefaults fills zero fields from DefaultSchedule. Jitter is left
// alone since zero is meaningful.
func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.StartupAttempts == 0 {
		s.StartupAttempts = d.StartupAttempts
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

func (s Schedule) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialDelay
	b.MaxInterval = s.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = s.Jitter
	return b
}

// Service describes one watched dependency.
type Service struct {
	// Name identifies the service in logs, metrics and /health.
	Name  string
	Probe ProbeFunc
	// Schedule zero fields take DefaultSchedule values.
	Schedule Schedule
	// OnChange runs in its own goroutine whenever readiness flips,
	// including the first successful probe. err is nil when ready.
	OnChange func(ready bool, err error)
}

// ServiceStatus is the health of a watched service as reported on
// /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service until stopped.
type Watcher struct {
	svc    Service
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	status  ServiceStatus
	lastErr error
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Err returns the most recent probe error, nil while healthy.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns a snapshot of the service's health.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Done is closed when the watcher goroutine exits.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	sched := w.svc.Schedule

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			return struct{}{}, w.check(ctx)
		},
		backoff.WithBackOff(sched.backOff()),
		backoff.WithMaxTries(sched.StartupAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.Debug("startup probe failed, retrying",
				"service", w.svc.Name,
				"next_delay", next.String(),
				"error", err,
			)
		}),
	)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.logger.Info("service unreachable at startup, polling in background",
			"service", w.svc.Name,
			"attempts", sched.StartupAttempts,
			"error", err,
		)
	}

	ticker := time.NewTicker(sched.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil && !w.Ready() {
				w.logger.Debug("service still unreachable", "service", w.svc.Name, "error", err)
			}
		}
	}
}

// check runs one probe and records its outcome.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.svc.Schedule.ProbeTimeout)
	defer cancel()
	err := w.svc.Probe(probeCtx)
	if ctx.Err() != nil {
		// Shutting down; the probe result says nothing about the service.
		return err
	}
	w.record(err)
	return err
}

// record stores a probe outcome and reports a readiness transition.
func (w *Watcher) record(err error) {
	ready := err == nil

	w.mu.Lock()
	was := w.status.Ready
	w.status.Ready = ready
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.lastErr = err
	w.mu.Unlock()

	probesTotal.WithLabelValues(w.svc.Name, probeOutcome(err)).Inc()
	serviceReady.WithLabelValues(w.svc.Name).Set(gauge(ready))

	if was == ready {
		return
	}
	if ready {
		w.logger.Info("service reachable", "service", w.svc.Name)
	} else {
		w.logger.Warn("service unreachable", "service", w.svc.Name, "error", err)
	}
	if w.svc.OnChange != nil {
		go w.svc.OnChange(ready, err)
	}
}

func gauge(ready bool) float64 {
	if ready {
		return 1
	}
	return 0
}

// Manager owns the watchers for a process.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts probing svc in the background until ctx ends or Stop is
// called. Watching a name twice replaces the earlier watcher.
//
// Panics if Name is empty or Probe is nil.
func (m *Manager) Watch(ctx context.Context, svc Service) *Watcher {
	if svc.Name == "" {
		panic("connwatch: Service.Name must not be empty")
	}
	if svc.Probe == nil {
		panic("connwatch: Service.Probe must not be nil")
	}
	svc.Schedule = svc.Schedule.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		svc:    svc,
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
		status: ServiceStatus{Name: svc.Name},
	}

	m.mu.Lock()
	old := m.watchers[svc.Name]
	m.watchers[svc.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	serviceReady.WithLabelValues(svc.Name).Set(0)
	go w.run(watchCtx)
	return w
}

// Status returns the health of every watched service, keyed by name.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Ready reports whether the named service is reachable. Services that
// are not watched count as ready.
func (m *Manager) Ready(name string) bool {
	m.mu.RLock()
	w, ok := m.watchers[name]
	m.mu.RUnlock()
	return !ok || w.Ready()
}

// AllReady reports whether every watched service is reachable.
func (m *Manager) AllReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.Ready() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
