package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ScripturePalpi/palpi/internal/model"
	"github.com/ScripturePalpi/palpi/internal/service"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	scriptReady    = `echo READY; exec sleep 60`
	scriptStubborn = `trap '' TERM; echo READY; while true; do sleep 1; done`
)

func testOptions() service.Options {
	return service.Options{
		ReadyLine:      "READY",
		ReadyDelay:     50 * time.Millisecond,
		StartupTimeout: 5 * time.Second,
		GracePeriod:    2 * time.Second,
		KillTimeout:    2 * time.Second,
		SettleDelay:    10 * time.Millisecond,
	}
}

func newSupervisor(t *testing.T, script string, opts service.Options) *service.Supervisor {
	t.Helper()
	sh := shell(t)
	s := service.NewSupervisor(service.Command{Path: sh, Args: []string{"-c", script}}, opts)
	t.Cleanup(func() {
		s.Shutdown(context.Background())
	})
	return s
}

type recorder struct {
	mx          sync.Mutex
	transitions []service.Transition
}

func (r *recorder) observe(t service.Transition) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []service.State {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]service.State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func requireConsistent(t *testing.T, report service.StatusReport) {
	t.Helper()
	switch report.State {
	case service.StateStarting, service.StateRunning, service.StateStopping:
		require.NotNil(t, report.PID)
		require.NotNil(t, report.Uptime)
	case service.StateStopped, service.StateCrashed:
		require.Nil(t, report.PID)
		require.Nil(t, report.Uptime)
	default:
		t.Fatalf("unexpected state %q", report.State)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, scriptReady, testOptions())
	ctx := t.Context()

	report := s.Status(ctx)
	require.Equal(t, service.StateStopped, report.State)
	requireConsistent(t, report)

	res := s.Start(ctx)
	require.NoError(t, res.Err)
	require.Equal(t, "running", res.Status)
	require.NotNil(t, res.PID)
	pid := *res.PID

	report = s.Status(ctx)
	require.Equal(t, service.StateRunning, report.State)
	require.Equal(t, pid, *report.PID)
	requireConsistent(t, report)

	t.Run("start twice", func(t *testing.T) {
		res := s.Start(ctx)
		require.ErrorIs(t, res.Err, service.ErrAlreadyRunning)
		require.False(t, res.Failed())
		require.Equal(t, pid, *res.PID)
	})

	res = s.Stop(ctx)
	require.NoError(t, res.Err)
	require.Equal(t, "stopped", res.Status)
	report = s.Status(ctx)
	require.Equal(t, service.StateStopped, report.State)
	requireConsistent(t, report)

	t.Run("stop twice", func(t *testing.T) {
		res := s.Stop(ctx)
		require.NoError(t, res.Err)
		require.Equal(t, "stopped", res.Status)
	})
}

func TestSupervisor_NotFound(t *testing.T) {
	t.Parallel()
	s := service.NewSupervisor(service.Command{Path: "/does/not/exist/palpi"}, testOptions())
	res := s.Start(t.Context())
	require.Equal(t, "error", res.Status)
	require.Contains(t, res.Message, "not found")
	require.ErrorIs(t, res.Err, service.ErrProcessSpawn)
	require.Nil(t, res.PID)

	report := s.Status(t.Context())
	require.Equal(t, service.StateStopped, report.State)
	require.Nil(t, report.PID)
	require.Contains(t, report.LastError, "not found")
}

func TestSupervisor_Restart(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, scriptReady, testOptions())
	var rec recorder
	s.OnTransition(rec.observe)
	ctx := t.Context()

	res := s.Start(ctx)
	require.NoError(t, res.Err)
	before := *res.PID

	res = s.Restart(ctx)
	require.NoError(t, res.Err)
	require.Equal(t, "running", res.Status)
	require.NotEqual(t, before, *res.PID)

	require.Equal(t, []service.State{
		service.StateStarting,
		service.StateRunning,
		service.StateStopping,
		service.StateStopped,
		service.StateStarting,
		service.StateRunning,
	}, rec.states())
}

func TestSupervisor_Restart_FromStopped(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, scriptReady, testOptions())
	res := s.Restart(t.Context())
	require.NoError(t, res.Err)
	require.Equal(t, "running", res.Status)
}

func TestSupervisor_Crash(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, `echo READY; sleep 1; exit 3`, testOptions())
	ctx := t.Context()

	res := s.Start(ctx)
	require.NoError(t, res.Err)

	require.Eventually(t, func() bool {
		return s.Status(ctx).State == service.StateCrashed
	}, 10*time.Second, 50*time.Millisecond)

	report := s.Status(ctx)
	requireConsistent(t, report)
	require.Contains(t, report.LastError, "exit status 3")

	// stop acknowledges the crash
	res = s.Stop(ctx)
	require.Equal(t, "stopped", res.Status)
	require.Equal(t, service.StateStopped, s.Status(ctx).State)

	// and the worker can be started again
	res = s.Start(ctx)
	require.NoError(t, res.Err)
}

func TestSupervisor_StartupTimeout(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.StartupTimeout = 300 * time.Millisecond
	s := newSupervisor(t, `exec sleep 60`, opts)
	ctx := t.Context()

	res := s.Start(ctx)
	require.Equal(t, "error", res.Status)
	require.ErrorIs(t, res.Err, service.ErrStartupTimeout)

	report := s.Status(ctx)
	require.Equal(t, service.StateCrashed, report.State)
	requireConsistent(t, report)
	require.Contains(t, report.LastError, "startup timeout")
}

func TestSupervisor_ExitDuringStartup(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, `exit 2`, testOptions())

	res := s.Start(t.Context())
	require.Equal(t, "error", res.Status)
	require.Contains(t, res.Message, "exit status 2")
	require.Equal(t, service.StateCrashed, s.Status(t.Context()).State)
}

func TestSupervisor_ReadyDelay(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.ReadyLine = ""
	s := newSupervisor(t, `exec sleep 60`, opts)

	res := s.Start(t.Context())
	require.NoError(t, res.Err)
	require.Equal(t, "running", res.Status)
}

func TestSupervisor_ForcedKill(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.GracePeriod = 200 * time.Millisecond
	s := newSupervisor(t, scriptStubborn, opts)
	ctx := t.Context()

	res := s.Start(ctx)
	require.NoError(t, res.Err)

	started := time.Now()
	res = s.Stop(ctx)
	require.NoError(t, res.Err)
	require.Equal(t, "stopped", res.Status)
	require.GreaterOrEqual(t, time.Since(started), opts.GracePeriod)
	require.Equal(t, service.StateStopped, s.Status(ctx).State)
}

func TestSupervisor_InFlight(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.ReadyLine = ""
	opts.ReadyDelay = 500 * time.Millisecond
	s := newSupervisor(t, `exec sleep 60`, opts)
	ctx := t.Context()

	var wg sync.WaitGroup
	var first service.Result
	wg.Go(func() {
		first = s.Start(ctx)
	})

	require.Eventually(t, func() bool {
		return s.Status(ctx).State == service.StateStarting
	}, 5*time.Second, 10*time.Millisecond)

	second := s.Start(ctx)
	require.ErrorIs(t, second.Err, service.ErrTransitionInFlight)
	require.Equal(t, "starting", second.Status)
	stop := s.Stop(ctx)
	require.ErrorIs(t, stop.Err, service.ErrTransitionInFlight)

	wg.Wait()
	require.NoError(t, first.Err)
	require.Equal(t, service.StateRunning, s.Status(ctx).State)
}

func TestSupervisor_Shutdown(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.ReadyLine = ""
	opts.ReadyDelay = 500 * time.Millisecond
	s := newSupervisor(t, `exec sleep 60`, opts)
	ctx := t.Context()

	var wg sync.WaitGroup
	var first service.Result
	wg.Go(func() {
		first = s.Start(ctx)
	})

	var pid int
	require.Eventually(t, func() bool {
		report := s.Status(ctx)
		if report.State != service.StateStarting {
			return false
		}
		pid = *report.PID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, opts.ShutdownTimeout())
	defer cancel()
	res := s.Shutdown(shutdownCtx)
	wg.Wait()
	require.NoError(t, first.Err)
	require.NoError(t, res.Err)
	require.Equal(t, "stopped", res.Status)

	report := s.Status(ctx)
	require.Equal(t, service.StateStopped, report.State)
	requireConsistent(t, report)
	require.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH)

	t.Run("start after shutdown", func(t *testing.T) {
		res := s.Start(ctx)
		require.ErrorIs(t, res.Err, service.ErrSupervisorClosed)
		require.True(t, res.Failed())
		res = s.Restart(ctx)
		require.ErrorIs(t, res.Err, service.ErrSupervisorClosed)
		require.Equal(t, service.StateStopped, s.Status(ctx).State)
	})
}

func TestSupervisor_Shutdown_Timeout(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.ReadyLine = ""
	opts.ReadyDelay = time.Second
	s := newSupervisor(t, `exec sleep 60`, opts)
	ctx := t.Context()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.Start(ctx)
	})
	t.Cleanup(wg.Wait)

	require.Eventually(t, func() bool {
		return s.Status(ctx).State == service.StateStarting
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	res := s.Shutdown(shutdownCtx)
	require.True(t, res.Failed())
	require.ErrorIs(t, res.Err, service.ErrTermination)
	require.Contains(t, res.Message, "starting")
}

func TestSupervisor_Watch(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, `echo READY; sleep 1; exit 1`, testOptions())
	ctx := t.Context()
	var rec recorder
	s.OnTransition(rec.observe)

	scheduler, err := s.Watch(ctx, "@every 100ms")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, scheduler.Shutdown())
	})

	require.NoError(t, s.Start(ctx).Err)
	require.Eventually(t, func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == service.StateCrashed
	}, 10*time.Second, 50*time.Millisecond)

	_, err = s.Watch(ctx, "@every never")
	require.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	t.Setenv("PALPI_TEST_KEY", "secret")
	cfg := model.DefaultConfig(t.Context())
	cfg.Worker.Env = map[string]string{"b": "2", "api_key": "$PALPI_TEST_KEY"}
	cfg.Worker.Args = []string{"--extra"}

	cmd, err := service.CommandFromConfig(cfg.Worker, "/etc/palpi.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, cmd.Path)
	require.Equal(t, []string{"worker", "--config", "/etc/palpi.yaml", "--extra"}, cmd.Args)
	require.Equal(t, []string{"API_KEY=secret", "B=2"}, cmd.Env)

	cfg.Worker.Path = "/usr/bin/true"
	cmd, err = service.CommandFromConfig(cfg.Worker, "")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/true", cmd.Path)
	require.Equal(t, []string{"--extra"}, cmd.Args)

	opts, err := service.OptionsFromConfig(cfg.Worker)
	require.NoError(t, err)
	require.Equal(t, "READY", opts.ReadyLine)
	require.Equal(t, 10*time.Second, opts.StartupTimeout)
	require.Equal(t, 5*time.Second, opts.GracePeriod)
	require.Equal(t, 27*time.Second, opts.ShutdownTimeout())

	cfg.Worker.GracePeriod = "soon"
	_, err = service.OptionsFromConfig(cfg.Worker)
	require.Error(t, err)
}
