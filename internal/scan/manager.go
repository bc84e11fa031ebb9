// Package scan implements the simulated scan lifecycle: scans are created
// pending, advanced on a fixed cadence by a per-scan runner, and completed
// with a canned summary once progress reaches 100.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/store"
)

const maxProgress = 100

// Policy controls the cadence of the simulation.
type Policy struct {
	// Step is the progress added by each advance.
	Step int `yaml:"step" json:"step"`
	// Interval is the delay between advances.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// InitialDelay is the delay before the first advance.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
}

// DefaultPolicy returns the standard cadence: 10 points every 500ms after a
// one second delay.
func DefaultPolicy() Policy {
	return Policy{
		Step:         10,
		Interval:     500 * time.Millisecond,
		InitialDelay: time.Second,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Step <= 0 || p.Step > maxProgress {
		return errors.ErrConfigInvalid("scan.step", p.Step)
	}
	if p.Interval <= 0 {
		return errors.ErrConfigInvalid("scan.interval", p.Interval)
	}
	if p.InitialDelay < 0 {
		return errors.ErrConfigInvalid("scan.initial_delay", p.InitialDelay)
	}
	return nil
}

// Advances returns how many advances a runner performs before completing.
// With the default step this is 9: progress 10 through 90, then 100 on
// completion.
func (p Policy) Advances() int {
	n := maxProgress / p.Step
	if maxProgress%p.Step == 0 {
		n--
	}
	return n
}

// Duration returns the simulated wall time from creation to completion.
func (p Policy) Duration() time.Duration {
	return p.InitialDelay + time.Duration(p.Advances())*p.Interval
}

// CompletionText is the result summary recorded for a finished scan.
func CompletionText(target string) string {
	return fmt.Sprintf("Scan completed for %s. No critical vulnerabilities found.", target)
}

// Manager owns scan creation and state transitions. Each scan is driven by
// its own runner goroutine until completion or until the manager closes.
type Manager struct {
	store  store.Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	observers []Observer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  sync.Map
	closeMu sync.Mutex
	closed  bool
}

// NewManager creates a manager over st.
func NewManager(st store.Store, policy Policy, logger *slog.Logger, observers ...Observer) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     st,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		observers: observers,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Policy returns the manager's cadence.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Subscribe registers an observer for subsequent events.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) publish(t EventType, s models.ScanResult) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()

	e := Event{Type: t, Scan: s, At: m.now()}
	for _, o := range observers {
		o.ScanEvent(e)
	}
}

// CreateScan validates target, stores a pending scan and starts its runner.
// Nothing is stored when validation fails.
func (m *Manager) CreateScan(ctx context.Context, target string) (models.ScanResult, error) {
	t, err := ValidateTarget(target)
	if err != nil {
		return models.ScanResult{}, err
	}

	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed {
		return models.ScanResult{}, fmt.Errorf("scan manager is closed")
	}

	scan := models.ScanResult{
		ID:        uuid.NewString(),
		Target:    t,
		Status:    models.ScanPending,
		Progress:  0,
		CreatedAt: m.now(),
	}
	if err := m.store.Insert(ctx, scan); err != nil {
		return models.ScanResult{}, fmt.Errorf("store scan: %w", err)
	}

	m.logger.Info("Scan created", "scan_id", scan.ID, "target", t, "expected_duration", m.policy.Duration())
	m.publish(EventCreated, scan)

	m.wg.Add(1)
	m.active.Store(scan.ID, struct{}{})
	go m.run(scan.ID, t)

	return scan.Clone(), nil
}

// Advance adds one step of progress and marks the scan running. Unknown ids
// are ignored and return the zero scan; completed scans are returned
// unchanged. Progress never exceeds 100.
func (m *Manager) Advance(ctx context.Context, id string) (models.ScanResult, error) {
	changed := false
	scan, err := m.store.UpdateScan(ctx, id, func(s *models.ScanResult) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Progress += m.policy.Step
		if s.Progress > maxProgress {
			s.Progress = maxProgress
		}
		s.Status = models.ScanRunning
		changed = true
		return nil
	})
	if errors.IsNotFound(err) {
		m.logger.Debug("Advance on unknown scan ignored", "scan_id", id)
		return models.ScanResult{}, nil
	}
	if err != nil {
		return models.ScanResult{}, err
	}

	if changed {
		m.publish(EventProgress, scan)
	}
	return scan, nil
}

// Complete marks a scan completed with progress 100 and the given results.
// Completing an already completed scan keeps its original completion time
// and results.
func (m *Manager) Complete(ctx context.Context, id, resultText string) (models.ScanResult, error) {
	changed := false
	scan, err := m.store.UpdateScan(ctx, id, func(s *models.ScanResult) error {
		if s.Status == models.ScanCompleted {
			return nil
		}
		now := m.now()
		text := resultText
		s.Status = models.ScanCompleted
		s.Progress = maxProgress
		s.Results = &text
		s.CompletedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return models.ScanResult{}, err
	}

	if changed {
		m.logger.Info("Scan completed", "scan_id", id, "target", scan.Target)
		m.publish(EventCompleted, scan)
	}
	return scan, nil
}

// GetScan returns a scan by id.
func (m *Manager) GetScan(ctx context.Context, id string) (models.ScanResult, error) {
	return store.GetAs[models.ScanResult](ctx, m.store, models.KindScans, id)
}

// ListScans returns every scan in creation order.
func (m *Manager) ListScans(ctx context.Context) ([]models.ScanResult, error) {
	return store.ListAs[models.ScanResult](ctx, m.store, models.KindScans)
}

// ActiveRunners returns the number of scans still being driven.
func (m *Manager) ActiveRunners() int {
	n := 0
	m.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops all runners and waits for them to exit. Scans that were in
// flight keep their last stored state.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

// Run blocks until ctx is done and then closes the manager. It lets the
// manager share a lifecycle with other long-running services.
func (m *Manager) Run(ctx context.Context) error {
	<-ctx.Done()
	return m.Close()
}
