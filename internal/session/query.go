package session

import (
	"time"
)

// List returns the live sessions, oldest first. By default sessions that
// have already outlived their idle window are hidden (the reaper will take
// them shortly); includeInactive shows them too. History counts come from
// the journal and are best effort.
func (m *Manager) List(includeInactive bool) []Info {
	counts, err := m.journal.Counts()
	if err != nil {
		m.logger.Error("journal counts failed", "error", err)
		counts = nil
	}

	now := time.Now().UTC()
	infos := make([]Info, 0)
	for _, snap := range m.registry.List() {
		if !includeInactive && snap.Idle(now) {
			continue
		}
		infos = append(infos, Info{
			ID:           snap.ID,
			CreatedAt:    snap.CreatedAt,
			LastUsedAt:   snap.LastUsedAt,
			HostPort:     snap.HostPort,
			HistoryCount: counts[snap.ID],
		})
	}
	return infos
}
