package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Lock artifacts a crashed Firefox or Chromium leaves in its profile.
var profileLocks = []string{"lock", "parent.lock", ".parentlock", "SingletonLock", "SingletonCookie", "SingletonSocket"}

// ProfileDir returns the persistent profile directory for a session.
func ProfileDir(root, sessionID string) string {
	return filepath.Join(root, profilePrefix+sessionID)
}

// prepareProfile creates the profile directory and removes stale locks.
// It returns the lock files it removed.
func prepareProfile(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	var removed []string
	for _, name := range profileLocks {
		path := filepath.Join(dir, name)
		// Lstat: Chromium's SingletonLock is a dangling symlink.
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale lock %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// isLockError reports launch failures caused by a profile still held by a
// previous browser, which need a longer backoff to clear.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "has been closed"),
		strings.Contains(msg, "already in use"),
		strings.Contains(msg, "profile") && strings.Contains(msg, "lock"):
		return true
	}
	return false
}
