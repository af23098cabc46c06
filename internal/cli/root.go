// Package cli implements the tutor command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/pkg/version"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Educational assistant orchestration core",
	Long: "tutor answers learner questions through a teaching methodology, grounded on indexed\n" +
		"learning material and the learner's session memory. Run `tutor serve` for the REST API.",
	Version:      version.String(),
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml or ~/.config/tutor/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON instead of styled output")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("error: "+msg))
	os.Exit(1)
}
