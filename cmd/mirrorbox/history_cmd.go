package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/openmined/mirrorbox/internal/config"
	"github.com/openmined/mirrorbox/internal/history"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/openmined/mirrorbox/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently mirrored files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			dbPath := cfg.HistoryDB
			if dbPath == "" {
				dbPath = config.DefaultHistoryPath
			}
			out := cmd.OutOrStdout()
			if !utils.FileExists(dbPath) {
				fmt.Fprintln(out, gray.Render("no history at "+dbPath))
				return nil
			}

			store := history.NewStore(dbPath, nil)
			if err := store.Open(); err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 {
				return errors.New("--limit must be positive")
			}
			rows, err := store.Recent(limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRUN\tFILES\tBYTES\tPATH")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					r.RecordedAt.Local().Format(time.DateTime),
					shortRunID(r.RunID),
					r.ProcessedFiles, r.TotalFiles,
					report.Bytes(r.ProcessedBytes),
					r.Path,
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out, lightGray.Render(fmt.Sprintf("%d rows", len(rows))))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of rows")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
