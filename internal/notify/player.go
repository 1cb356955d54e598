package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ScripturePalpi/palpi/internal/log"
	"github.com/ScripturePalpi/palpi/internal/speech"
)

var ErrClosed = errors.New("notification player closed")

const defaultJoinTimeout = time.Second

// Task is a snapshot of the active notification.
type Task struct {
	ID         string
	Descriptor Descriptor
	StartedAt  time.Time
}

type task struct {
	Task
	cancel context.CancelFunc
	done   chan struct{}
	active atomic.Bool
}

// Player renders at most one notification at a time on a background
// goroutine. Starting a notification stops the previous one first.
type Player struct {
	registry    *Registry
	synthesizer speech.Synthesizer
	player      speech.Player
	joinTimeout time.Duration

	mx      sync.Mutex
	current *task
	closed  bool
	wg      sync.WaitGroup
}

func NewPlayer(registry *Registry, synthesizer speech.Synthesizer, player speech.Player, joinTimeout time.Duration) *Player {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	return &Player{
		registry:    registry,
		synthesizer: synthesizer,
		player:      player,
		joinTimeout: joinTimeout,
	}
}

func (p *Player) Registry() *Registry {
	return p.registry
}

// Play starts notification id and returns without waiting for it. A
// positive override replaces the nominal duration of the silent fallback.
func (p *Player) Play(ctx context.Context, id string, override time.Duration) error {
	d, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if override > 0 {
		d.Duration = override
	}

	p.mx.Lock()
	defer p.mx.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.stopLocked(ctx)

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		Task: Task{
			ID:         uuid.NewString(),
			Descriptor: d,
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.active.Store(true)
	p.current = t
	taskCtx = log.ContextAttrs(taskCtx, slog.String("notification", d.ID), slog.String("task_id", t.ID))

	p.wg.Go(func() {
		p.render(taskCtx, t)
	})
	slog.DebugContext(taskCtx, "notification started")
	return nil
}

// Stop cancels the active notification and waits for it at most the join
// timeout. The task is inactive afterwards even if it did not finish.
func (p *Player) Stop(ctx context.Context) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.stopLocked(ctx)
}

// Active returns the running notification, if any.
func (p *Player) Active() (Task, bool) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.current == nil || !p.current.active.Load() {
		return Task{}, false
	}
	return p.current.Task, true
}

// Close stops the active notification and waits for every background task.
func (p *Player) Close(ctx context.Context) {
	p.mx.Lock()
	p.closed = true
	p.stopLocked(ctx)
	p.mx.Unlock()
	p.wg.Wait()
}

func (p *Player) stopLocked(ctx context.Context) {
	t := p.current
	if t == nil {
		return
	}
	p.current = nil
	t.cancel()

	timer := time.NewTimer(p.joinTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		slog.WarnContext(ctx, "notification did not stop in time", "notification", t.Descriptor.ID, "task_id", t.ID, "join_timeout", p.joinTimeout)
	}
	t.active.Store(false)
}

func (p *Player) render(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "notification panicked", "panic", fmt.Sprint(r))
		}
		t.active.Store(false)
		t.cancel()
		close(t.done)
	}()

	var err error
	switch d := t.Descriptor; d.Kind {
	case KindFile:
		err = p.playFile(ctx, d)
	case KindSpeech:
		err = p.speak(ctx, d)
	default:
		err = fmt.Errorf("unsupported kind %q", d.Kind)
	}

	switch {
	case err == nil:
		slog.DebugContext(ctx, "notification finished")
	case ctx.Err() != nil:
		slog.DebugContext(ctx, "notification stopped")
	default:
		slog.ErrorContext(ctx, "notification failed", "error", err)
	}
}

func (p *Player) playFile(ctx context.Context, d Descriptor) error {
	if _, err := os.Stat(d.Payload); err != nil {
		slog.WarnContext(ctx, "notification file missing: holding silence", "path", d.Payload, "duration", d.Duration)
		timer := time.NewTimer(d.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	return p.player.Play(ctx, d.Payload)
}

func (p *Player) speak(ctx context.Context, d Descriptor) error {
	artifact, err := p.synthesizer.Synthesize(ctx, d.Payload)
	if err != nil {
		return err
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			slog.WarnContext(ctx, "removing notification artifact", "error", err)
		}
	}()
	return p.player.Play(ctx, artifact.AudioPath)
}
