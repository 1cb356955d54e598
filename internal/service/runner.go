package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/ScripturePalpi/palpi/internal/log"
)

// Handle is the record of one spawned worker. It is owned by the Supervisor.
type Handle struct {
	PID        int
	LaunchedAt time.Time

	cmd       *exec.Cmd
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	state     *os.ProcessState
	err       error
}

// Spawn starts cmd in its own process group. Stdout and stderr are forwarded
// to the log line by line; a stdout line equal to readyLine marks the handle
// ready instead.
func Spawn(ctx context.Context, cmd Command, readyLine string) (*Handle, error) {
	path, err := exec.LookPath(cmd.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: worker executable %s not found: %w", ErrProcessSpawn, cmd.Path, err)
	}

	c := exec.Command(path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Env = append(c.Env, ReadyLineEnv+"="+readyLine)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	c.Stdout = stdoutW
	c.Stderr = stderrW

	launched := time.Now().UTC()
	err = c.Start()
	// the child holds its own copies now
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}

	h := &Handle{
		PID:        c.Process.Pid,
		LaunchedAt: launched,
		cmd:        c,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}

	ctx = log.ContextAttrs(context.WithoutCancel(ctx), slog.Int("pid", h.PID))
	h.wg.Go(func() {
		h.processOutput(ctx, stdoutR, "stdout", readyLine)
	})
	h.wg.Go(func() {
		h.processOutput(ctx, stderrR, "stderr", "")
	})
	go h.wait()
	return h, nil
}

func (h *Handle) processOutput(ctx context.Context, r io.ReadCloser, stream, readyLine string) {
	defer func() {
		_ = r.Close()
	}()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if readyLine != "" && strings.TrimSpace(line) == readyLine {
			h.readyOnce.Do(func() { close(h.ready) })
			slog.DebugContext(ctx, "worker is ready")
			continue
		}
		slog.InfoContext(ctx, "worker output", "stream", stream, "line", line)
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "reading worker "+stream, "error", err)
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.state = h.cmd.ProcessState
	h.err = err
	close(h.done)
}

// Ready is closed when the worker printed its ready line.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// Done is closed once the worker has exited and was reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the worker still runs, consulting the OS process
// table in addition to the wait status.
func (h *Handle) Alive(ctx context.Context) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	ok, err := process.PidExistsWithContext(ctx, int32(h.PID))
	if err != nil {
		slog.DebugContext(ctx, "checking worker pid", "pid", h.PID, "error", err)
		return true
	}
	return ok
}

// ExitStatus describes how the worker ended. Only meaningful after Done.
func (h *Handle) ExitStatus() string {
	select {
	case <-h.done:
	default:
		return "still running"
	}
	if h.state != nil {
		return h.state.String()
	}
	if h.err != nil {
		return h.err.Error()
	}
	return "unknown"
}

// Terminate asks the whole process group to exit.
func (h *Handle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

// Kill forcibly ends the whole process group.
func (h *Handle) Kill() error {
	return h.signal(unix.SIGKILL)
}

func (h *Handle) signal(sig unix.Signal) error {
	err := unix.Kill(-h.PID, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Close kills what is left of the process group and waits for the output
// forwarders. Call it after Done.
func (h *Handle) Close() {
	if err := h.Kill(); err != nil {
		slog.Debug("killing worker process group", "pid", h.PID, "error", err)
	}
	h.wg.Wait()
}
