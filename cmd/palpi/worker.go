package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ScripturePalpi/palpi/internal/assistant"
	"github.com/ScripturePalpi/palpi/internal/log"
	"github.com/ScripturePalpi/palpi/internal/notify"
	"github.com/ScripturePalpi/palpi/internal/service"
	"github.com/ScripturePalpi/palpi/internal/speech"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "worker runs the voice assistant loop, normally started by serve",
	RunE:  doWorker,
}

func doWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("palpi",
		slog.String("cmd", "worker"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	speaker := speech.NewSpeaker(config.Speech)
	registry, err := notify.RegistryFromConfig(config.Notifications)
	if err != nil {
		return err
	}
	joinTimeout, err := config.Notifications.JoinTimeout.Duration()
	if err != nil {
		return fmt.Errorf("parsing notifications.join_timeout: %w", err)
	}
	notifier := notify.NewPlayer(registry, speaker.Synthesizer, speaker.Player, joinTimeout)
	defer notifier.Close(context.WithoutCancel(ctx))

	responder, err := assistant.ResponderFromConfig(config.Assistant)
	if err != nil {
		return err
	}
	listener, err := assistant.ListenerFromConfig(config.Assistant)
	if err != nil {
		return err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			slog.WarnContext(ctx, "closing listener", "error", err)
		}
	}()
	if fifo, ok := listener.(*assistant.FIFOListener); ok {
		slog.InfoContext(ctx, "listening on named pipe", "path", fifo.Path())
	}

	a := &assistant.Assistant{
		Listener:  listener,
		Responder: responder,
		Speaker:   speaker,
		Notifier:  notifier,
		ExitWords: config.Assistant.ExitWords,
		Farewell:  config.Assistant.Farewell,
	}

	// the supervisor waits for this line on stdout
	readyLine := config.Worker.ReadyLine
	if v, ok := os.LookupEnv(service.ReadyLineEnv); ok {
		readyLine = v
	}
	if readyLine != "" {
		fmt.Println(readyLine)
	}
	slog.InfoContext(ctx, "assistant ready", "provider", config.Assistant.Provider)

	if err := a.Run(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "assistant finished")
	return nil
}
