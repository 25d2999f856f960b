package workflow

import (
	"context"
	"sort"
	"time"

	"tbloader/internal/logging"
	"tbloader/internal/store"
)

// ActiveSession describes a session that is still running.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	Device    string    `json:"device"`
	StatsOnly bool      `json:"stats_only"`
	StartedAt time.Time `json:"started_at"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Active           []ActiveSession `json:"active"`
	LastError        string          `json:"last_error,omitempty"`
	LastSession      *store.Session  `json:"last_session,omitempty"`
	SerialsAvailable int             `json:"serials_available"`
	LoaderHexID      string          `json:"loader_hex_id,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Active: make([]ActiveSession, 0, len(m.active))}
	for _, a := range m.active {
		step, percent := a.progress.current()
		summary.Active = append(summary.Active, ActiveSession{
			SessionID: a.id,
			Device:    a.device,
			StatsOnly: a.statsOnly,
			StartedAt: a.started,
			Step:      string(step),
			Percent:   percent,
		})
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastSession != nil {
		copy := *m.lastSession
		summary.LastSession = &copy
	}
	m.mu.RUnlock()

	sort.Slice(summary.Active, func(i, j int) bool {
		return summary.Active[i].StartedAt.Before(summary.Active[j].StartedAt)
	})

	alloc, err := m.serials.Snapshot(ctx)
	if err != nil {
		m.logger.Warn("failed to read serial number allocation", logging.Error(err))
	} else {
		summary.SerialsAvailable = alloc.Available()
		summary.LoaderHexID = alloc.LoaderHexID
	}
	return summary
}

// Busy reports whether a session is running on device.
func (m *Manager) Busy(device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[device]
	return ok
}

func (m *Manager) begin(key string, a *activeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[key]; ok {
		return ErrDeviceBusy
	}
	m.active[key] = a
	return nil
}

func (m *Manager) end(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) finished(sess store.Session, err error) {
	m.mu.Lock()
	m.lastSession = &sess
	m.lastErr = err
	m.mu.Unlock()
}
