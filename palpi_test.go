package palpi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	palpiPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("palpi-ci") {
		slog.Warn("integration tests skipped, build the binary first: go build -race -cover -covermode=atomic -o palpi-ci ./cmd/palpi/")
		os.Exit(0)
	}

	var err error
	palpiPath, err = filepath.Abs("palpi-ci")
	if err != nil {
		slog.Error("can't get abspath for palpi-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for palpi-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for palpi-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const configTemplate = `
version: 0
service:
    verbose: true
    log: palpi.log
server:
    listen: %q
worker:
    ready_delay: 100ms
    startup_timeout: 10s
    grace_period: 2s
    settle_delay: 100ms
    health_check: "@every 1s"
speech:
    synthesizer:
        path: %q
    player:
        path: %q
notifications:
    dir: %q
assistant:
    provider: keywords
    input: %q
`

func TestPalpi(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, sh not available: %v", err)
	}
	dir := chDir(t)
	fake := filepath.Join(dir, "fake.sh")
	creat(t, fake, []byte("#!/bin/sh\nexit 0\n"))
	require.NoError(t, os.Chmod(fake, 0o755))

	addr := freeAddr(t)
	creat(t, "palpi.yaml", fmt.Appendf(nil, configTemplate,
		addr, fake, fake, dir, filepath.Join(dir, "input.fifo")))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, palpiPath, "serve", "--config", "palpi.yaml")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		if t.Failed() {
			b, _ := os.ReadFile(filepath.Join(dir, "palpi.log"))
			t.Logf("stderr: %s\nlog: %s", stderr.String(), b)
		}
	})

	base := "http://" + addr
	client := &http.Client{
		Timeout:   20 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/api/status/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	call := func(method, path string) (int, map[string]any) {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := call(http.MethodGet, "/api/ai/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopped", body["state"])
	require.Nil(t, body["pid"])

	code, body = call(http.MethodPost, "/api/ai/start")
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "running", body["status"])
	pid, ok := body["pid"].(float64)
	require.True(t, ok)
	require.Positive(t, pid)

	code, body = call(http.MethodGet, "/api/ai/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "running", body["state"])
	require.Equal(t, pid, body["pid"])

	code, body = call(http.MethodPost, "/api/ai/stop")
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "stopped", body["status"])

	code, body = call(http.MethodGet, "/api/ai/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopped", body["state"])

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))
	require.NoError(t, cmd.Wait())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
