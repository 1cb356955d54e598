package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ScripturePalpi/palpi/internal/api"
	"github.com/ScripturePalpi/palpi/internal/log"
	"github.com/ScripturePalpi/palpi/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the control API and supervises the assistant worker",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("palpi",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	command, err := service.CommandFromConfig(config.Worker, absConfig)
	if err != nil {
		return err
	}
	opts, err := service.OptionsFromConfig(config.Worker)
	if err != nil {
		return err
	}

	hub := api.NewHub()
	supervisor := service.NewSupervisor(command, opts)
	supervisor.OnTransition(hub.Publish)
	supervisor.OnTransition(func(t service.Transition) {
		slog.InfoContext(ctx, "worker transition", "from", t.From, "to", t.To, "worker_pid", t.PID)
	})

	if config.Worker.HealthCheck != "" {
		scheduler, err := supervisor.Watch(ctx, config.Worker.HealthCheck)
		if err != nil {
			return err
		}
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				slog.WarnContext(ctx, "stopping health check", "error", err)
			}
		}()
	}

	server := api.NewServer(supervisor, config.Server,
		api.WithEvents(hub),
		api.WithSystemInfo(api.HostInfo{DiskPath: filepath.Dir(absConfig)}),
		api.WithTools(map[string]string{
			"synthesizer": config.Speech.Synthesizer.Path,
			"player":      config.Speech.Player.Path,
			"tone":        config.Speech.Tone.Path,
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// the worker must not outlive its supervisor
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), opts.ShutdownTimeout())
		defer cancel()
		res := supervisor.Shutdown(shutdownCtx)
		if res.Failed() {
			return fmt.Errorf("stopping worker: %w", res.Err)
		}
		slog.InfoContext(gctx, "worker stopped on shutdown", "status", res.Status)
		return nil
	})
	return g.Wait()
}
