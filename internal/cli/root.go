package cli

import (
	"github.com/kntkb/espfit/internal/config"
	"github.com/spf13/cobra"
)

var (
	// cfgFile is the config path given with --config.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "espfit-reweight",
		Short: "Reweighting driver for espfit force-field fitting",
		Long: `Runs reference simulations, reweights their trajectories under candidate
parameters, gates on the effective sample size, and scores J-coupling losses.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+")")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
