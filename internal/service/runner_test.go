package service_test

import (
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/ScripturePalpi/palpi/internal/service"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestSpawn(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", `echo "ready=$PALPI_READY_LINE" 1>&2; echo HELLO; echo $PALPI_TEST; exit 3`},
		Env:  []string{"PALPI_TEST=42"},
	}
	h, err := service.Spawn(t.Context(), cmd, "HELLO")
	require.NoError(t, err)
	require.Positive(t, h.PID)
	require.NotZero(t, h.LaunchedAt)

	select {
	case <-h.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ready line not seen")
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	h.Close()
	require.False(t, h.Alive(t.Context()))
	require.Equal(t, "exit status 3", h.ExitStatus())
}

func TestSpawn_Signals(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	h, err := service.Spawn(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "trap '' TERM; echo READY; while true; do sleep 1; done"},
	}, "READY")
	require.NoError(t, err)
	<-h.Ready()
	require.True(t, h.Alive(t.Context()))
	require.Equal(t, "still running", h.ExitStatus())

	require.NoError(t, h.Terminate())
	select {
	case <-h.Done():
		t.Fatal("SIGTERM should be ignored")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, h.Kill())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("SIGKILL did not end the process " + strconv.Itoa(h.PID))
	}
	h.Close()
	require.Equal(t, "signal: killed", h.ExitStatus())
	// signalling a reaped group is not an error
	require.NoError(t, h.Terminate())
}

func TestSpawn_NotFound(t *testing.T) {
	t.Parallel()
	_, err := service.Spawn(t.Context(), service.Command{Path: "/does/not/exist"}, "")
	require.Error(t, err)
	require.ErrorIs(t, err, service.ErrProcessSpawn)
	require.Contains(t, err.Error(), "not found")
}

func TestHandle_Close(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	// the background sleep keeps the output pipes open after the shell exits
	h, err := service.Spawn(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", "sleep 60 & echo READY; exit 0"},
	}, "READY")
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		h.Close()
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not join the output forwarders")
	}
}
