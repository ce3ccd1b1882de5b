// Package cli wires the worker's command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "saiblo-worker",
	Short: "Judge worker for the Saiblo platform",
	Long: `saiblo-worker joins the Saiblo coordinator over a persistent control
channel, builds submitted agent code into container images, and runs matches
between a game host container and agent containers on isolated per-agent
networks, reporting scores and replays back to the coordinator.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("saiblo-worker: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./saiblo-worker.yaml if present)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCleanCmd())
}
