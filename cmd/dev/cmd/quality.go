package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Test()
			if err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// SimulateCmd runs the acquisition against the simulated sensor so the whole
// pipeline can be checked without hardware.
func SimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the acquisition against the simulated sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := cmd.Flag("profile").Value.String()
			runArgs := []string{"run", "./cmd/nirs", "--adapter", "sim", "run", "--summary", "--profile", profile}
			slog.Info("starting simulated acquisition", "profile", profile)
			run := exec.CommandContext(cmd.Context(), "go", runArgs...)
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			if err := run.Run(); err != nil {
				return fmt.Errorf("simulated acquisition failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("profile", "triple-high-penetration", "operating profile")
	return cmd
}
