package speech

import (
	"context"
	"log/slog"

	"github.com/ScripturePalpi/palpi/internal/model"
)

// Speaker is the direct speech output path.
type Speaker struct {
	Synthesizer Synthesizer
	Player      Player
}

func NewSpeaker(cfg model.Speech) Speaker {
	return Speaker{
		Synthesizer: Piper{
			Path:    cfg.Synthesizer.Path,
			Model:   cfg.Synthesizer.Model,
			TempDir: cfg.TempDir,
		},
		Player: Aplay{
			Path: cfg.Player.Path,
			Args: cfg.Player.Args,
		},
	}
}

// Speak synthesizes text, plays it and removes the artifact.
func (s Speaker) Speak(ctx context.Context, text string) error {
	artifact, err := s.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer s.remove(ctx, artifact)
	return s.Player.Play(ctx, artifact.AudioPath)
}

// PlayArtifact plays an artifact synthesized earlier and removes it.
func (s Speaker) PlayArtifact(ctx context.Context, artifact *Artifact) error {
	defer s.remove(ctx, artifact)
	return s.Player.Play(ctx, artifact.AudioPath)
}

func (s Speaker) remove(ctx context.Context, artifact *Artifact) {
	if err := artifact.Remove(); err != nil {
		slog.WarnContext(ctx, "removing speech artifact", "path", artifact.AudioPath, "error", err)
	}
}
