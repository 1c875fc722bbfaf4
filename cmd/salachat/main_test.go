package main

import (
	"testing"
)

func TestServerAndLocalKeepTheirOwnAddr(t *testing.T) {
	if err := serverCmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("parse server flags: %v", err)
	}
	if err := localCmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("parse local flags: %v", err)
	}
	wantServer := envOrDefault("SALACHAT_ADDR", ":5001")
	if flagServerAddr != wantServer {
		t.Fatalf("salachat server would listen on %q, want %q", flagServerAddr, wantServer)
	}
	if flagLocalAddr != "127.0.0.1:0" {
		t.Fatalf("salachat local would listen on %q, want 127.0.0.1:0", flagLocalAddr)
	}
	if got := serverConfig(flagServerAddr).Addr; got != wantServer {
		t.Fatalf("server config addr = %q", got)
	}

	if err := localCmd.ParseFlags([]string{"--addr", "127.0.0.1:7000"}); err != nil {
		t.Fatalf("parse local flags: %v", err)
	}
	if flagServerAddr != wantServer {
		t.Fatalf("local --addr leaked into the server address: %q", flagServerAddr)
	}
	if flagLocalAddr != "127.0.0.1:7000" {
		t.Fatalf("local --addr not applied: %q", flagLocalAddr)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("SALACHAT_TEST_VALUE", "")
	if got := envOrDefault("SALACHAT_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("empty env should fall back, got %q", got)
	}
	t.Setenv("SALACHAT_TEST_VALUE", ":6000")
	if got := envOrDefault("SALACHAT_TEST_VALUE", "fallback"); got != ":6000" {
		t.Fatalf("env should win, got %q", got)
	}
}
