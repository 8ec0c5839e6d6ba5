package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/mirrorbox/internal/backend"
	"github.com/openmined/mirrorbox/internal/history"
	"github.com/openmined/mirrorbox/internal/ignore"
	"github.com/openmined/mirrorbox/internal/mirror"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			useTUI, _ := cmd.Flags().GetBool("tui")
			if asJSON && useTUI {
				return errors.New("--json and --tui cannot be combined")
			}

			s, err := newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			cmd.SilenceUsage = true

			ctx := cmd.Context()
			cfg := s.cfg

			ignoreList, err := ignore.Load(cfg.SourceDir, cfg.IgnoreFile)
			if err != nil {
				return err
			}
			target, err := backend.Target(ctx, cfg)
			if err != nil {
				return err
			}

			logger := s.logger
			if useTUI {
				// the progress bar owns the terminal
				logger = slog.New(slog.DiscardHandler)
			}
			engine := mirror.New(backend.Source(cfg), target,
				mirror.WithLogger(logger),
				mirror.WithIgnore(ignoreList),
			)

			if cfg.HistoryDB != "" {
				store := history.NewStore(cfg.HistoryDB, logger)
				if err := store.Open(); err != nil {
					return err
				}
				defer store.Close()
				defer engine.Subscribe(history.Recorder(store, engine.ID(), logger))()
			}

			out := cmd.OutOrStdout()
			switch {
			case useTUI:
				return runProgressTUI(ctx, engine, out)

			case asJSON:
				jw := report.NewJSONWriter(out, engine.ID())
				defer engine.Subscribe(jw.Write)()
				if err := engine.Run(ctx); err != nil {
					return err
				}
				return jw.Err()

			default:
				defer engine.Subscribe(report.Logger(logger))()
				if err := engine.Run(ctx); err != nil {
					return err
				}
				snap := engine.Progress()
				fmt.Fprintln(out, green.Render(fmt.Sprintf("✓ %d files, %s mirrored to %s",
					snap.ProcessedFiles, report.Bytes(snap.ProcessedBytes), target.FullName())))
				return nil
			}
		},
	}
	cmd.Flags().Bool("json", false, "print one JSON object per file")
	cmd.Flags().Bool("tui", false, "show a progress bar")
	return cmd
}
