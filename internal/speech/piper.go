package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Artifact is a synthesized audio file. It lives until Remove.
type Artifact struct {
	SourceText string
	AudioPath  string
	CreatedAt  time.Time

	dir string
}

// Remove deletes the audio file and its private directory. It is safe to
// call more than once.
func (a *Artifact) Remove() error {
	if a == nil || a.dir == "" {
		return nil
	}
	err := os.RemoveAll(a.dir)
	a.dir = ""
	return err
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Artifact, error)
}

// Piper runs `piper --model M --output_file O --input_file I`.
type Piper struct {
	Path    string
	Model   string
	TempDir string // empty means os.TempDir
}

func (p Piper) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	dir, err := os.MkdirTemp(p.TempDir, "palpi-tts-")
	if err != nil {
		return nil, &SynthesisError{ExitCode: -1, Err: fmt.Errorf("creating temp dir: %w", err)}
	}
	artifact, err := p.synthesize(ctx, dir, text)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.WarnContext(ctx, "removing synthesis temp dir", "dir", dir, "error", rmErr)
		}
		return nil, err
	}
	return artifact, nil
}

func (p Piper) synthesize(ctx context.Context, dir, text string) (*Artifact, error) {
	input := filepath.Join(dir, "input.txt")
	output := filepath.Join(dir, "speech.wav")
	if err := os.WriteFile(input, []byte(text), 0o600); err != nil {
		return nil, &SynthesisError{ExitCode: -1, Err: fmt.Errorf("writing input: %w", err)}
	}
	defer func() {
		_ = os.Remove(input)
	}()

	cmd := exec.CommandContext(ctx, p.Path,
		"--model", p.Model,
		"--output_file", output,
		"--input_file", input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	started := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, &SynthesisError{
			ExitCode: exitCode(err),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	if _, err := os.Stat(output); err != nil {
		return nil, &SynthesisError{
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    ErrNoOutput,
		}
	}
	slog.DebugContext(ctx, "synthesized", "chars", len(text), "elapsed", time.Since(started))

	return &Artifact{
		SourceText: text,
		AudioPath:  output,
		CreatedAt:  time.Now().UTC(),
		dir:        dir,
	}, nil
}
