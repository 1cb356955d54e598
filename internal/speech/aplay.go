package speech

import (
	"bytes"
	"context"
	"os/exec"
	"slices"
	"strings"
	"time"
)

type Player interface {
	Play(ctx context.Context, path string) error
}

// Aplay runs `aplay [Args...] PATH`. Cancelling ctx kills the player.
type Aplay struct {
	Path string
	Args []string
}

func (a Aplay) Play(ctx context.Context, path string) error {
	args := append(slices.Clone(a.Args), path)
	cmd := exec.CommandContext(ctx, a.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &PlaybackError{
			ExitCode: exitCode(err),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return nil
}
