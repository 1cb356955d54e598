package service

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ScripturePalpi/palpi/internal/model"
)

// ReadyLineEnv tells the worker which stdout line announces readiness.
const ReadyLineEnv = "PALPI_READY_LINE"

const defaultKillTimeout = 2 * time.Second

// Command describes the worker executable.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Options bound every wait the supervisor performs.
type Options struct {
	// ReadyLine is the stdout line the worker prints once ready. When
	// empty, a worker still alive after ReadyDelay counts as ready.
	ReadyLine      string
	ReadyDelay     time.Duration
	StartupTimeout time.Duration
	GracePeriod    time.Duration
	KillTimeout    time.Duration
	SettleDelay    time.Duration
}

// CommandFromConfig builds the worker command. An empty path runs the
// current executable with the worker subcommand and configPath.
func CommandFromConfig(cfg model.Worker, configPath string) (Command, error) {
	cmd := Command{
		Path: cfg.Path,
		Args: slices.Clone(cfg.Args),
		Dir:  cfg.Dir,
	}
	if cmd.Path == "" {
		self, err := os.Executable()
		if err != nil {
			return Command{}, fmt.Errorf("resolving own executable: %w", err)
		}
		args := []string{"worker"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		cmd.Path = self
		cmd.Args = append(args, cmd.Args...)
	}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	cmd.Env = make([]string, 0, len(keys))
	for _, k := range keys {
		v := cfg.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		cmd.Env = append(cmd.Env, strings.ToUpper(k)+"="+v)
	}
	return cmd, nil
}

func OptionsFromConfig(cfg model.Worker) (Options, error) {
	opts := Options{
		ReadyLine:   cfg.ReadyLine,
		KillTimeout: defaultKillTimeout,
	}
	for _, d := range []struct {
		name  string
		value model.Duration
		dst   *time.Duration
	}{
		{"ready_delay", cfg.ReadyDelay, &opts.ReadyDelay},
		{"startup_timeout", cfg.StartupTimeout, &opts.StartupTimeout},
		{"grace_period", cfg.GracePeriod, &opts.GracePeriod},
		{"settle_delay", cfg.SettleDelay, &opts.SettleDelay},
	} {
		v, err := d.value.Duration()
		if err != nil {
			return Options{}, fmt.Errorf("parsing worker.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return opts, nil
}

// ShutdownTimeout bounds Supervisor.Shutdown: an in-flight restart may still
// settle, start and time out before the worker is stopped and killed.
func (o Options) ShutdownTimeout() time.Duration {
	kill := o.KillTimeout
	if kill <= 0 {
		kill = defaultKillTimeout
	}
	return o.GracePeriod + o.SettleDelay + o.StartupTimeout + o.GracePeriod + 3*kill
}
