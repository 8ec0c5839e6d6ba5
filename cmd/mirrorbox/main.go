package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/mirrorbox/internal/config"
	"github.com/openmined/mirrorbox/internal/daemon"
	"github.com/openmined/mirrorbox/internal/logging"
	"github.com/openmined/mirrorbox/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "MIRRORBOX"

var rootCmd = &cobra.Command{
	Use:     "mirrorbox",
	Short:   "Mirror a directory into a local folder or an S3 bucket",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd, true)
		if err != nil {
			return err
		}
		defer s.close()

		d, err := daemon.New(cmd.Context(), s.cfg, s.logger)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader(cmd.OutOrStdout())
		defer s.logger.Info("Bye!")
		return d.Start(cmd.Context())
	},
}

func init() {
	addPersistentFlags(rootCmd)

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().BoolP("watch", "w", false, "mirror changes as they happen")
	rootCmd.Flags().Bool("control-plane", false, "serve the local HTTP API")
	rootCmd.Flags().String("addr", "", "control plane listen address")
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	cmd.PersistentFlags().StringP("source", "s", "", "directory to mirror")
	cmd.PersistentFlags().StringP("target", "t", "", "local target directory")
	cmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	cmd.PersistentFlags().String("ignore-file", "", "gitignore-style rules, relative to the source")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// flag name -> config key
var flagKeys = map[string]string{
	"source":        "source_dir",
	"target":        "target.path",
	"log-level":     "log_level",
	"ignore-file":   "ignore_file",
	"watch":         "watch",
	"control-plane": "control_plane.enabled",
	"addr":          "control_plane.addr",
}

// loadConfig merges, lowest first: the config file, MIRRORBOX_* variables
// (a .env file in the working directory included) and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	configPath, _ := cmd.Flags().GetString("config")
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if cmd.Flag("config").Changed || (!enoent && !notFound) {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		Path:       configPath,
		SourceDir:  v.GetString("source_dir"),
		LogLevel:   v.GetString("log_level"),
		LogFile:    v.GetString("log_file"),
		Watch:      v.GetBool("watch"),
		IgnoreFile: v.GetString("ignore_file"),
		HistoryDB:  v.GetString("history_db"),
		Target: config.TargetConfig{
			Kind:     v.GetString("target.kind"),
			Path:     v.GetString("target.path"),
			Bucket:   v.GetString("target.bucket"),
			Prefix:   v.GetString("target.prefix"),
			Region:   v.GetString("target.region"),
			Endpoint: v.GetString("target.endpoint"),
			Credentials: config.CredentialsConfig{
				Type:      v.GetString("target.credentials.type"),
				KeyID:     v.GetString("target.credentials.key_id"),
				KeySecret: v.GetString("target.credentials.key_secret"),
				Profile:   v.GetString("target.credentials.profile"),
			},
		},
		ControlPlane: config.ControlPlaneConfig{
			Enabled: v.GetBool("control_plane.enabled"),
			Addr:    v.GetString("control_plane.addr"),
			Token:   v.GetString("control_plane.token"),
		},
	}
	return cfg, nil
}

type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

// newSession loads and validates the config and installs the process
// logger. The daemon also logs to a file.
func newSession(cmd *cobra.Command, logToFile bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := logging.Options{Level: cfg.LogLevel, Console: cmd.ErrOrStderr()}
	if logToFile {
		opts.File = cfg.LogFile
		if opts.File == "" {
			opts.File = config.DefaultLogFilePath
		}
	}
	logger, closeLog, err := logging.Setup(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &session{cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

func (s *session) close() {
	if err := s.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}
