package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seqcast/seqcast/cmd/cli/commands"
	"github.com/seqcast/seqcast/pkg/constants"
	apperrors "github.com/seqcast/seqcast/pkg/errors"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Time series forecasting hyperparameter search CLI",
		Long: `A command-line interface for running hyperparameter searches over
sequence-to-sequence forecasting models on multivariate sensor time series.`,
		Version: constants.AppVersion,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.seqcast.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Initialize Viper
	cobra.OnInitialize(initConfig)

	// Add commands
	rootCmd.AddCommand(commands.NewSearchCmd())
	rootCmd.AddCommand(commands.NewEvaluateCmd())

	// Execute. An interrupted search writes a continue checkpoint and
	// surfaces ErrCancelled; that is a controlled shutdown, not a failure.
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, apperrors.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "search interrupted; resume with --resume")
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".seqcast")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SEQCAST")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
