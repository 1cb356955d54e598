package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/ScripturePalpi/palpi/internal/model"
)

// Supervisor owns the single worker process. Start, Stop, Restart and
// Status are safe for concurrent use; at most one transition runs at a time.
type Supervisor struct {
	cmd  Command
	opts Options

	mx        sync.Mutex
	state     State
	handle    *Handle
	busy      bool
	idle      chan struct{} // closed when the running transition ends
	closed    bool
	lastErr   string
	observers []func(Transition)
}

func NewSupervisor(cmd Command, opts Options) *Supervisor {
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = defaultKillTimeout
	}
	return &Supervisor{
		cmd:   cmd,
		opts:  opts,
		state: StateStopped,
	}
}

// OnTransition registers fn for every state change. Observers are called
// with the supervisor lock held and must not call back into it.
func (s *Supervisor) OnTransition(fn func(Transition)) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.observers = append(s.observers, fn)
}

// Start spawns the worker and waits for it to become ready. A worker that is
// already starting or running is left alone.
func (s *Supervisor) Start(ctx context.Context) Result {
	s.mx.Lock()
	if s.busy {
		defer s.mx.Unlock()
		return s.inFlightLocked()
	}
	if s.closed {
		defer s.mx.Unlock()
		return closedResult()
	}
	if s.state == StateRunning || s.state == StateStarting {
		defer s.mx.Unlock()
		return Result{
			Status:  string(s.state),
			PID:     s.pidLocked(),
			Message: "worker already running",
			Err:     ErrAlreadyRunning,
		}
	}
	s.acquireLocked()
	s.mx.Unlock()
	defer s.release()

	return s.start(ctx)
}

// Stop terminates the worker: SIGTERM, the grace period, then SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) Result {
	s.mx.Lock()
	if s.busy {
		defer s.mx.Unlock()
		return s.inFlightLocked()
	}
	s.acquireLocked()
	s.mx.Unlock()
	defer s.release()

	return s.stop(ctx)
}

// Shutdown waits for a running transition to finish, stops the worker and
// refuses any later Start or Restart. The wait is bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) Result {
	s.mx.Lock()
	s.closed = true
	for s.busy {
		idle := s.idle
		s.mx.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			s.mx.Lock()
			defer s.mx.Unlock()
			return Result{
				Status:  StatusError,
				PID:     s.pidLocked(),
				Message: "worker still " + string(s.state) + " at shutdown: " + ctx.Err().Error(),
				Err:     ErrTermination,
			}
		}
		s.mx.Lock()
	}
	s.acquireLocked()
	s.mx.Unlock()
	defer s.release()

	return s.stop(ctx)
}

// Restart stops and starts the worker while holding the transition slot.
// A failed stop is returned without starting.
func (s *Supervisor) Restart(ctx context.Context) Result {
	s.mx.Lock()
	if s.busy {
		defer s.mx.Unlock()
		return s.inFlightLocked()
	}
	if s.closed {
		defer s.mx.Unlock()
		return closedResult()
	}
	s.acquireLocked()
	s.mx.Unlock()
	defer s.release()

	if r := s.stop(ctx); r.Failed() {
		return r
	}

	if s.opts.SettleDelay > 0 {
		timer := time.NewTimer(s.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{
				Status:  StatusError,
				Message: "restart cancelled: " + ctx.Err().Error(),
				Err:     ctx.Err(),
			}
		case <-timer.C:
		}
	}

	return s.start(ctx)
}

// Status reconciles the believed state with the OS. It is the only place
// where a vanished worker turns the state into crashed.
func (s *Supervisor) Status(ctx context.Context) StatusReport {
	var crashed *Handle
	defer func() {
		if crashed != nil {
			crashed.Close()
		}
	}()
	s.mx.Lock()
	defer s.mx.Unlock()

	if !s.busy && s.handle != nil && !s.handle.Alive(ctx) {
		crashed = s.handle
		s.handle = nil
		s.lastErr = "worker exited unexpectedly: " + crashed.ExitStatus()
		slog.WarnContext(ctx, "worker crashed", "pid", crashed.PID, "exit", crashed.ExitStatus())
		s.setStateLocked(StateCrashed, crashed.PID)
	}

	report := StatusReport{
		State:     s.state,
		PID:       s.pidLocked(),
		LastError: s.lastErr,
	}
	if s.handle != nil {
		up := time.Since(s.handle.LaunchedAt).Seconds()
		report.Uptime = &up
	}
	return report
}

// Watch calls Status on the given schedule so a crash is noticed without
// anyone polling. It returns a started scheduler; the caller shuts it down.
func (s *Supervisor) Watch(ctx context.Context, expr string) (gocron.Scheduler, error) {
	sched, err := model.ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing worker.health_check: %w", err)
	}

	var job gocron.JobDefinition
	if sched.Every > 0 {
		job = gocron.DurationJob(sched.Every)
	} else {
		job = gocron.CronJob(sched.Cron, false)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		job,
		gocron.NewTask(func() {
			report := s.Status(ctx)
			slog.DebugContext(ctx, "health check", "state", report.State)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

func (s *Supervisor) start(ctx context.Context) Result {
	h, err := Spawn(ctx, s.cmd, s.opts.ReadyLine)
	if err != nil {
		slog.ErrorContext(ctx, "spawning worker", "path", s.cmd.Path, "error", err)
		s.mx.Lock()
		defer s.mx.Unlock()
		s.lastErr = err.Error()
		s.setStateLocked(StateStopped, 0)
		return Result{
			Status:  StatusError,
			Message: err.Error(),
			Err:     ErrProcessSpawn,
		}
	}

	s.mx.Lock()
	s.handle = h
	s.setStateLocked(StateStarting, h.PID)
	s.mx.Unlock()
	slog.InfoContext(ctx, "worker spawned", "pid", h.PID, "path", s.cmd.Path)

	if err := s.waitReady(h); err != nil {
		select {
		case <-h.Done():
			h.Close()
		default:
		}
		s.mx.Lock()
		defer s.mx.Unlock()
		s.handle = nil
		s.lastErr = err.Error()
		s.setStateLocked(StateCrashed, h.PID)
		slog.ErrorContext(ctx, "worker failed to start", "pid", h.PID, "error", err)
		return Result{
			Status:  StatusError,
			Message: err.Error(),
			Err:     classify(err, ErrStartupTimeout, ErrProcessSpawn),
		}
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.lastErr = ""
	s.setStateLocked(StateRunning, h.PID)
	pid := h.PID
	return Result{
		Status:  string(StateRunning),
		PID:     &pid,
		Message: "worker started",
	}
}

func (s *Supervisor) waitReady(h *Handle) error {
	ready := h.Ready()
	var delay <-chan time.Time
	if s.opts.ReadyLine == "" {
		ready = nil
		t := time.NewTimer(s.opts.ReadyDelay)
		defer t.Stop()
		delay = t.C
	}

	timeout := time.NewTimer(s.opts.StartupTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		return nil
	case <-delay:
		select {
		case <-h.Done():
			return fmt.Errorf("%w: worker exited during startup: %s", ErrProcessSpawn, h.ExitStatus())
		default:
			return nil
		}
	case <-h.Done():
		return fmt.Errorf("%w: worker exited during startup: %s", ErrProcessSpawn, h.ExitStatus())
	case <-timeout.C:
		if err := s.forceKill(h); err != nil {
			return fmt.Errorf("%w: worker not ready after %s, kill failed: %w", ErrStartupTimeout, s.opts.StartupTimeout, err)
		}
		return fmt.Errorf("%w: worker not ready after %s", ErrStartupTimeout, s.opts.StartupTimeout)
	}
}

func (s *Supervisor) stop(ctx context.Context) Result {
	s.mx.Lock()
	h := s.handle
	if h == nil {
		defer s.mx.Unlock()
		if s.state == StateCrashed {
			s.setStateLocked(StateStopped, 0)
		}
		return Result{
			Status:  string(StateStopped),
			Message: "worker not running",
		}
	}
	s.setStateLocked(StateStopping, h.PID)
	s.mx.Unlock()

	slog.InfoContext(ctx, "stopping worker", "pid", h.PID)
	if err := s.terminate(ctx, h); err != nil {
		s.mx.Lock()
		defer s.mx.Unlock()
		s.lastErr = err.Error()
		slog.ErrorContext(ctx, "worker did not stop", "pid", h.PID, "error", err)
		return Result{
			Status:  StatusError,
			PID:     &h.PID,
			Message: err.Error(),
			Err:     ErrTermination,
		}
	}

	h.Close()
	s.mx.Lock()
	defer s.mx.Unlock()
	s.handle = nil
	s.setStateLocked(StateStopped, h.PID)
	return Result{
		Status:  string(StateStopped),
		Message: "worker stopped",
	}
}

func (s *Supervisor) terminate(ctx context.Context, h *Handle) error {
	if err := h.Terminate(); err != nil {
		slog.WarnContext(ctx, "sending SIGTERM", "pid", h.PID, "error", err)
	}

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()
	select {
	case <-h.Done():
		return nil
	case <-grace.C:
	}

	slog.WarnContext(ctx, "escalating to SIGKILL", "pid", h.PID, "grace_period", s.opts.GracePeriod, "error", ErrTerminationTimeout)
	return s.forceKill(h)
}

func (s *Supervisor) forceKill(h *Handle) error {
	if err := h.Kill(); err != nil {
		return fmt.Errorf("%w: %w", ErrTermination, err)
	}
	timer := time.NewTimer(s.opts.KillTimeout)
	defer timer.Stop()
	select {
	case <-h.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: pid %d still alive %s after SIGKILL", ErrTermination, h.PID, s.opts.KillTimeout)
	}
}

func (s *Supervisor) acquireLocked() {
	s.busy = true
	s.idle = make(chan struct{})
}

func (s *Supervisor) release() {
	s.mx.Lock()
	s.busy = false
	close(s.idle)
	s.mx.Unlock()
}

func closedResult() Result {
	return Result{
		Status:  StatusError,
		Message: ErrSupervisorClosed.Error(),
		Err:     ErrSupervisorClosed,
	}
}

func (s *Supervisor) inFlightLocked() Result {
	return Result{
		Status:  string(s.state),
		PID:     s.pidLocked(),
		Message: "worker is " + string(s.state),
		Err:     ErrTransitionInFlight,
	}
}

func (s *Supervisor) pidLocked() *int {
	if s.handle == nil {
		return nil
	}
	pid := s.handle.PID
	return &pid
}

func (s *Supervisor) setStateLocked(to State, pid int) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	t := Transition{From: from, To: to, PID: pid, At: time.Now().UTC()}
	for _, fn := range s.observers {
		fn(t)
	}
}

// classify returns the first target err wraps, nil when none matches.
func classify(err error, targets ...error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
