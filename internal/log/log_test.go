package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ScripturePalpi/palpi/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false).With("component", "test")

	ctx := log.ContextAttrs(context.Background(), slog.Int("pid", 42))
	child := log.ContextAttrs(ctx, slog.String("request_id", "abc"))
	logger.InfoContext(child, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "test", rec["component"])
	require.Equal(t, float64(42), rec["pid"])
	require.Equal(t, "abc", rec["request_id"])

	buf.Reset()
	logger.InfoContext(ctx, "parent")
	rec = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.NotContains(t, rec, "request_id")
}

func TestVerbose(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log.New(&buf, false).Debug("hidden")
	require.Zero(t, buf.Len())
	log.New(&buf, true).Debug("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestOpen(t *testing.T) {
	t.Parallel()
	w, closer, err := log.Open(log.DestDiscard)
	require.NoError(t, err)
	require.Equal(t, io.Discard, w)
	require.NoError(t, closer())

	w, _, err = log.Open("")
	require.NoError(t, err)
	require.Equal(t, os.Stderr, w)

	path := filepath.Join(t.TempDir(), "palpi.log")
	w, closer, err = log.Open(path)
	require.NoError(t, err)
	_, err = io.WriteString(w, "line\n")
	require.NoError(t, err)
	require.NoError(t, closer())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line\n", string(b))

	_, _, err = log.Open(filepath.Join(t.TempDir(), "missing", "palpi.log"))
	require.Error(t, err)
}
