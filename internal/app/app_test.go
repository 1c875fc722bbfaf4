package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"salachat/internal/socketio"
)

func TestNormalizeServerURL(t *testing.T) {
	cases := map[string]string{
		"localhost:5001":           "http://localhost:5001",
		"http://localhost:5001/":   "http://localhost:5001",
		"https://chat.example.com": "https://chat.example.com",
		"ws://127.0.0.1:9000":      "http://127.0.0.1:9000",
		"wss://chat.example.com/":  "https://chat.example.com",
		" http://host/base/ ":      "http://host/base",
	}
	for input, want := range cases {
		got, err := NormalizeServerURL(input)
		if err != nil {
			t.Fatalf("NormalizeServerURL(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("NormalizeServerURL(%q) = %q, want %q", input, got, want)
		}
	}

	for _, bad := range []string{"", "   ", "ftp://host", "http://"} {
		if _, err := NormalizeServerURL(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestServerPathPrefixReachesSocket(t *testing.T) {
	base, err := NormalizeServerURL("http://host:5001/chat/")
	if err != nil {
		t.Fatalf("NormalizeServerURL: %v", err)
	}
	endpoint, err := socketio.EndpointURL(base)
	if err != nil {
		t.Fatalf("EndpointURL: %v", err)
	}
	if !strings.HasPrefix(endpoint, "ws://host:5001/chat/socket.io/?") {
		t.Fatalf("socket endpoint %q dropped the /chat prefix used by %q", endpoint, base)
	}
}

func TestDefaultPathsFollowDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SALACHAT_DATA_DIR", dir)
	t.Setenv("SALACHAT_DB_PATH", "")

	if got := DefaultDBPath(); got != filepath.Join(dir, "salachat.db") {
		t.Fatalf("DefaultDBPath = %q", got)
	}
	if got := DefaultUploadDir(); got != filepath.Join(dir, "uploads") {
		t.Fatalf("DefaultUploadDir = %q", got)
	}
	if got := DefaultLogPath(); got != filepath.Join(dir, "salachat.log") {
		t.Fatalf("DefaultLogPath = %q", got)
	}

	t.Setenv("SALACHAT_DB_PATH", "/tmp/other.db")
	if got := DefaultDBPath(); got != "/tmp/other.db" {
		t.Fatalf("SALACHAT_DB_PATH should win, got %q", got)
	}
}

func TestRunServerLifecycle(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := RunServer(ctx, ServerConfig{
		Addr:          "127.0.0.1:0",
		DBPath:        filepath.Join(dir, "data", "salachat.db"),
		UploadDir:     filepath.Join(dir, "uploads"),
		AdminUser:     "admin",
		AdminPassword: "secret",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("RunServer: %v", err)
	}

	resp, err := http.Get(handle.URL() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if _, ok := snapshot["active_sockets"]; !ok {
		t.Fatalf("metrics missing active_sockets: %v", snapshot)
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- handle.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}

func TestRunServerRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	_, err := RunServer(context.Background(), ServerConfig{
		Addr:   "127.0.0.1:0",
		DBPath: filepath.Join(dir, "salachat.db"),
	}, zerolog.Nop())
	if err == nil {
		t.Fatalf("expected missing admin credentials to fail")
	}
}
