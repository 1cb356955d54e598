package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/ScripturePalpi/palpi/internal/notify"
	"github.com/ScripturePalpi/palpi/internal/speech"
)

// Assistant is the conversation loop of the worker: listen, respond and
// speak, with a loading cue while the reply is prepared.
type Assistant struct {
	Listener  Listener
	Responder Responder
	Speaker   speech.Speaker
	Notifier  *notify.Player
	// Cue is the notification played while the reply is prepared; empty
	// selects the registry default.
	Cue       string
	ExitWords []string
	Farewell  string
}

// Run converses until an exit word, the end of input or ctx cancellation.
func (a *Assistant) Run(ctx context.Context) error {
	for {
		text, err := a.Listener.Listen(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			slog.InfoContext(ctx, "input closed")
			return nil
		case err != nil:
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		slog.InfoContext(ctx, "heard", "text", text)

		if a.isExit(text) {
			if err := a.Speaker.Speak(ctx, a.Farewell); err != nil {
				slog.ErrorContext(ctx, "speaking farewell", "error", err)
			}
			return nil
		}

		if _, err := a.Handle(ctx, text); err != nil {
			slog.ErrorContext(ctx, "handling utterance", "error", err)
		}
	}
}

// Handle answers one utterance. The reply is generated and synthesized
// while the cue plays, and spoken once the cue stopped.
func (a *Assistant) Handle(ctx context.Context, text string) (string, error) {
	var reply string
	artifact, err := notify.Run(ctx, a.Notifier, a.Cue, func(ctx context.Context) (*speech.Artifact, error) {
		var err error
		reply, err = a.Responder.Respond(ctx, text)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "reply", "text", reply)
		return a.Speaker.Synthesizer.Synthesize(ctx, reply)
	})
	if err != nil {
		return reply, err
	}
	return reply, a.Speaker.PlayArtifact(ctx, artifact)
}

func (a *Assistant) isExit(text string) bool {
	return slices.ContainsFunc(a.ExitWords, func(w string) bool {
		return strings.EqualFold(text, w)
	})
}
