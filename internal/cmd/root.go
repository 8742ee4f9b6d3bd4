// Package cmd wires the ember CLI: a server that runs deadline-bounded
// agent turns, and a client to send turns to it.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/emberworks/ember/internal/version"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().String("config", "", "Path to the config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
}

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Deadline-bounded AI coding assistant backend",
	Long: `Ember runs tool-using model turns under a strict wall-clock budget.
When a turn approaches the execution ceiling it snapshots its state and hands
the client a continuation token; a follow-up request resumes the turn where
it was cut off.`,
	Example: `
	# Start the server on the default unix socket
	ember serve

	# Start the server on TCP
	ember serve -H tcp://127.0.0.1:8080

	# Send a turn
	ember send -u alice -P myproject "add error handling to main.go"

	# Resume a turn that hit the deadline
	ember send -u alice -t <continuation-token>
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func resolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
