package content

import (
	"sync/atomic"
	"time"
)

// Manager holds the active snapshot. Reads never block a swap.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set sets the active snapshot safely
func (m *Manager) Set(s Snapshot) {
	// copy so callers cannot mutate the served value
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get retrieves the active snapshot value
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.Docs != nil
}

// ContentSource implements httpmw.ContentInfo.
func (m *Manager) ContentSource() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return string(s.Source)
}

// ContentRevision implements httpmw.ContentInfo.
func (m *Manager) ContentRevision() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.Revision
}

// Source returns the source of the current content, or SourceUnknown if not available
func (m *Manager) Source() Source {
	s := m.active.Load()
	if s == nil || s.Source == "" {
		return SourceUnknown
	}
	return s.Source
}

// LoadedAt returns the time when the current content snapshot was loaded, or zero if not available
func (m *Manager) LoadedAt() time.Time {
	s := m.active.Load()
	if s == nil {
		return time.Time{}
	}
	return s.LoadedAt
}
