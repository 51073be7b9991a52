// Package cli implements the tish commands.
package cli

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sjawhar/tish/internal/config"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "tish",
	Short:         "Spoken counseling companion",
	Long:          "tish listens, replies with a short supportive answer, and speaks it back. Crisis statements always get a fixed safety response with support resources.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $TISH_CONFIG or config.yaml)")
	RootCmd.AddCommand(serveCmd, listenCmd, classifyCmd)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv(config.EnvPrefix + "CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func loadConfig() (config.Config, []string, error) {
	cfg, warnings, err := config.Load(getConfigPath())
	if err != nil {
		return cfg, nil, err
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}
	return cfg, warnings, nil
}
