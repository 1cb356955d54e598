package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/ScripturePalpi/palpi/internal/log"
	"github.com/ScripturePalpi/palpi/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	userConfigPath string // /default/config/path/palpi on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	closeLog = func() error { return nil }
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "palpi")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is palpi.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initPalpi
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}

	serveCmd.Flags().String("listen", "", "address of the control API, overrides server.listen")
	notifyPlayCmd.Flags().Duration("duration", 0, "override the nominal duration of the notification")

	notifyCmd.AddCommand(notifyListCmd, notifyPlayCmd, notifyGenerateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("palpi failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "palpi",
	Short:        "Voice assistant with a supervised worker and a control API",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a palpi",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("palpi: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("palpi:  %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initPalpi(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("PALPICONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "palpi.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(context.Background())
		configPath = filepath.Join(userConfigPath, "palpi.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
		config = *cfg
	}

	// PALPI_* variables and flags have a precedence over config file
	v, err := overrides(cmd)
	if err != nil {
		return err
	}
	applyOverrides(v, &config)

	// initialize logging
	w, closer, err := log.Open(config.Service.Log)
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("palpi run", "configPath", configPath)
	slog.Debug("palpi run", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

// overrides binds PALPI_SECTION_KEY environment variables and the flags
// mirroring config keys.
func overrides(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("palpi")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	flags := map[string]string{
		"service.verbose": "verbose",
		"server.listen":   "listen",
	}
	for key, name := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return v, nil
}

func applyOverrides(v *viper.Viper, cfg *model.Config) {
	if v.IsSet("service.verbose") {
		cfg.Service.Verbose = v.GetBool("service.verbose")
	}
	if v.IsSet("service.log") {
		cfg.Service.Log = v.GetString("service.log")
	}
	if v.IsSet("server.listen") {
		cfg.Server.Listen = v.GetString("server.listen")
	}
	if v.IsSet("server.token") {
		cfg.Server.Token = v.GetString("server.token")
	}
	if v.IsSet("assistant.provider") {
		cfg.Assistant.Provider = v.GetString("assistant.provider")
	}
	if v.IsSet("assistant.model") {
		cfg.Assistant.Model = v.GetString("assistant.model")
	}
	if v.IsSet("assistant.api_key") {
		cfg.Assistant.APIKey = v.GetString("assistant.api_key")
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
