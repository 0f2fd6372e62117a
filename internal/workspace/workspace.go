// Package workspace manages the host directories bind-mounted at /sandbox
// for persistent sessions. A workspace survives its session: closing a
// session never deletes its directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Manager hands out per-session directories under a single root.
type Manager struct {
	root string
}

// NewManager resolves root to an absolute path (bind mount sources must be
// absolute) and creates it if missing.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the host directory for a session without creating it.
func (m *Manager) Path(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}

// Ensure creates the session directory and opens it up to the container's
// unprivileged user. MkdirAll is umask-bound, so the mode is set explicitly
// afterwards. Ensure is idempotent; an existing directory keeps its
// contents.
func (m *Manager) Ensure(sessionID string) (string, error) {
	dir := m.Path(sessionID)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", sessionID, err)
	}
	if err := os.Chmod(dir, 0o777); err != nil {
		return "", fmt.Errorf("opening workspace %s: %w", sessionID, err)
	}
	return dir, nil
}
