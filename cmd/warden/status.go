package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Launch the interactive status dashboard",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkHealth(); err != nil {
		return fmt.Errorf("start the daemon first with 'warden watch': %w", err)
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
