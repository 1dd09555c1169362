package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/client"
	"github.com/dd0wney/cluso-graphclient/pkg/config"
	"github.com/dd0wney/cluso-graphclient/pkg/memgraph"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseFlagsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.yaml")
	body := "listen_addr: tcp://127.0.0.1:7000\nworkers: 4\ngroups: 2\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := parseFlags([]string{"-config", path, "-workers", "8"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "tcp://127.0.0.1:7000" || cfg.Groups != 2 || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want the flag value 8", cfg.Workers)
	}
	if cfg.MetricsAddr != config.DefaultServerConfig().MetricsAddr {
		t.Errorf("unset flag overrode the default: %q", cfg.MetricsAddr)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-workers", "0"},
		{"-transport", "carrier-pigeon"},
		{"-auth-secret", "short"},
		{"-config", "/does/not/exist.yaml"},
		{"-bogus"},
	} {
		if _, _, err := parseFlags(args, io.Discard); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestIssueToken(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-auth-secret", testSecret, "-issue-token", auth.RoleWriter, "-subject", "ci"}, &out)
	if err != nil {
		t.Fatal(err)
	}
	m, err := auth.NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatal(err)
	}
	if claims.Role != auth.RoleWriter {
		t.Errorf("role = %q", claims.Role)
	}

	if err := run(context.Background(), []string{"-issue-token", auth.RoleAdmin}, io.Discard); err == nil {
		t.Error("issuing without a secret should fail")
	}
	if err := run(context.Background(), []string{"-auth-secret", testSecret, "-issue-token", "root"}, io.Discard); err == nil {
		t.Error("unknown role should fail")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRunServesUntilCancelled(t *testing.T) {
	rpcAddr := "inproc://graphdb-alpha-run"
	httpAddr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-listen", rpcAddr, "-metrics", httpAddr, "-log-level", "error"}, io.Discard)
	}()

	cfg := config.DefaultClientConfig()
	cfg.Endpoints = []string{rpcAddr}
	cfg.LogLevel = "error"
	cfg.Timeout = 200 * time.Millisecond
	dg, err := client.NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer dg.Close()

	var tag string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v, err := dg.CheckVersion(context.Background())
		if err == nil {
			tag = v.Tag
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if tag != memgraph.VersionTag {
		t.Fatalf("backend never answered (tag %q)", tag)
	}

	status := 0
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("http://%s/health/ready", httpAddr))
		if err == nil {
			resp.Body.Close()
			status = resp.StatusCode
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if status != http.StatusOK {
		t.Errorf("readiness = %d, want 200", status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
