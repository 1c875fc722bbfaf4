package app

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const DefaultServerURL = "http://localhost:5001"

// ServerConfig defines how the development backend should run.
type ServerConfig struct {
	Addr          string
	DBPath        string
	UploadDir     string
	MaxUploadSize int64
	AdminUser     string
	AdminPassword string
	TokenTTL      time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL      string
	AdminUser      string
	JoinTimeout    time.Duration
	RequestTimeout time.Duration
	LogPath        string
}

// DefaultDataDir returns the per-user directory for the database, uploads and
// the client log.
func DefaultDataDir() string {
	if env := os.Getenv("SALACHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "salachat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Salachat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Salachat")
		}
		return filepath.Join(home, ".local", "share", "salachat")
	}
	return filepath.Join(".", ".salachat")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("SALACHAT_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "salachat.db")
}

func DefaultUploadDir() string {
	return filepath.Join(DefaultDataDir(), "uploads")
}

func DefaultLogPath() string {
	return filepath.Join(DefaultDataDir(), "salachat.log")
}

// NormalizeServerURL turns a host, host:port or URL into an http(s) origin
// without a trailing slash.
func NormalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("server URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", raw)
	}
	return fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, strings.TrimRight(parsed.Path, "/")), nil
}
