package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const DefaultSessionName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// BaseDir returns ~/.fleachat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fleachat")
}

// SessionDir returns the session-specific directory.
func SessionDir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(SessionDir(name), "LOCK")
}

// CachePath returns the local history cache database path.
func CachePath(name string) string {
	return filepath.Join(SessionDir(name), "cache.db")
}

// CredentialsPath returns the default bearer credentials file path.
func CredentialsPath(name string) string {
	return filepath.Join(SessionDir(name), "credentials.json")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(SessionDir(name), "logs")
}

// LogPath returns the session log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "fleachat.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureSessionDir creates the session directory tree with proper permissions.
func EnsureSessionDir(name string) error {
	dirs := []string{
		SessionDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ResolveSession determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func ResolveSession(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ValidateSessionName checks that name conforms to session naming rules.
func ValidateSessionName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
