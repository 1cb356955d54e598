package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ScripturePalpi/palpi/internal/model"
	"github.com/ScripturePalpi/palpi/internal/notify"
	"github.com/ScripturePalpi/palpi/internal/speech"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "notify lists, plays and generates loading notifications",
}

var notifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "list prints the notification catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := notify.RegistryFromConfig(config.Notifications)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, d := range registry.List() {
			mark := ""
			if d.ID == registry.Default() {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", d.ID, mark, d.Kind, d.Duration, d.Description)
		}
		return tw.Flush()
	},
}

var notifyPlayCmd = &cobra.Command{
	Use:   "play [id]",
	Short: "play renders one notification, the default one without id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doNotifyPlay,
}

var notifyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "generate creates the tone files of the catalog with sox",
	RunE:  doNotifyGenerate,
}

var sayCmd = &cobra.Command{
	Use:   "say text...",
	Short: "say speaks the text through the synthesizer and the audio player",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return speech.NewSpeaker(config.Speech).Speak(ctx, strings.Join(args, " "))
	},
}

func doNotifyPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := notify.RegistryFromConfig(config.Notifications)
	if err != nil {
		return err
	}
	id := registry.Default()
	if len(args) == 1 {
		id = args[0]
	}
	d, err := registry.Get(id)
	if err != nil {
		return err
	}
	override, err := cmd.Flags().GetDuration("duration")
	if err != nil {
		return err
	}
	wait := d.Duration
	if override > 0 {
		wait = override
	}

	speaker := speech.NewSpeaker(config.Speech)
	joinTimeout, err := config.Notifications.JoinTimeout.Duration()
	if err != nil {
		return fmt.Errorf("parsing notifications.join_timeout: %w", err)
	}
	player := notify.NewPlayer(registry, speaker.Synthesizer, speaker.Player, joinTimeout)
	defer player.Close(context.WithoutCancel(ctx))

	if err := player.Play(ctx, id, override); err != nil {
		return err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

func doNotifyGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dir := config.Notifications.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, s := range config.Notifications.Sounds {
		if s.Kind != model.KindFile {
			continue
		}
		tone, ok := speech.Tones[filepath.Base(s.File)]
		if !ok {
			slog.InfoContext(ctx, "no tone known, skipping", "notification", s.ID, "file", s.File)
			continue
		}
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		g.Go(func() error {
			if err := speech.GenerateTone(ctx, config.Speech.Tone.Path, path, tone); err != nil {
				return err
			}
			slog.InfoContext(ctx, "tone generated", "notification", s.ID, "path", path)
			return nil
		})
	}
	return g.Wait()
}
