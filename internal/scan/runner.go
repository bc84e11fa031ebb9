package scan

import (
	"time"
)

// run drives one scan: after the initial delay it advances immediately,
// then once per interval, and completes on the tick after the last advance.
func (m *Manager) run(id, target string) {
	defer m.wg.Done()
	defer m.active.Delete(id)

	logger := m.logger.With("scan_id", id)

	delay := time.NewTimer(m.policy.InitialDelay)
	defer delay.Stop()

	select {
	case <-m.ctx.Done():
		logger.Debug("Scan runner stopped before start")
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	remaining := m.policy.Advances()
	for {
		if remaining == 0 {
			if _, err := m.Complete(m.ctx, id, CompletionText(target)); err != nil {
				logger.Error("Failed to complete scan", "error", err)
			}
			return
		}

		if _, err := m.Advance(m.ctx, id); err != nil {
			logger.Warn("Failed to advance scan", "error", err)
		}
		remaining--

		select {
		case <-m.ctx.Done():
			logger.Debug("Scan runner stopped", "remaining_advances", remaining)
			return
		case <-ticker.C:
		}
	}
}
