package content

import "errors"

// ErrNoSnapshot is returned by ReadyErr before any snapshot has been set.
var ErrNoSnapshot = errors.New("content: no active snapshot")

// ReadyErr returns an error if there is no active snapshot
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}
