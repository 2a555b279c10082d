package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"alttext/internal/infra"
	"alttext/internal/jobs"
	"alttext/internal/providers/replicate"
)

var (
	config *infra.Config
	logger infra.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML file overriding environment settings")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initAltText

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "alttext:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "alttext",
	Short:        "Generate alt text for images with a hosted captioning model",
	SilenceUsage: true,
}

func initAltText(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	if flagConfigFilePath != "" {
		if err := infra.LoadConfigFile(cfg, flagConfigFilePath); err != nil {
			return err
		}
	}
	appEnv := "production"
	if flagVerbose {
		appEnv = "development"
	}
	config = cfg
	logger = infra.NewLoggerTo(os.Stderr, appEnv)
	return nil
}

// newPoller wires the remote client and a Poller from the loaded config.
func newPoller() (*jobs.Poller, error) {
	client, err := replicate.NewFromConfig(config, &logger)
	if err != nil {
		return nil, err
	}
	return jobs.NewPoller(jobs.OptionsFromConfig(config, client, &logger))
}
