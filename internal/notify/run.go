package notify

import (
	"context"
	"log/slog"
)

// Run plays notification id while op runs on the caller's goroutine and
// stops it afterwards, also when op fails or panics. An empty id selects
// the registry default. Notification failures never reach op's result.
func Run[T any](ctx context.Context, p *Player, id string, op func(context.Context) (T, error)) (T, error) {
	if id == "" {
		id = p.registry.Default()
	}
	if err := p.Play(ctx, id, 0); err != nil {
		slog.WarnContext(ctx, "notification not started", "notification", id, "error", err)
	}
	defer p.Stop(ctx)
	return op(ctx)
}

// RunWithNotification is Run for operations without a result value.
func (p *Player) RunWithNotification(ctx context.Context, id string, op func(context.Context) error) error {
	_, err := Run(ctx, p, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
