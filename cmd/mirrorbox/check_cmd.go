package main

import (
	"errors"
	"fmt"

	"github.com/openmined/mirrorbox/internal/backend"
	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("check failed")

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and probe the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			res := backend.Check(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			if !res.Passed {
				fmt.Fprintln(out, red.Render("✗ "+res.Message))
				return errCheckFailed
			}
			fmt.Fprintln(out, green.Render("✓ "+res.Message))
			return nil
		},
	}
}
