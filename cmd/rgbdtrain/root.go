package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"rgbdtrain/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
	noBanner   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rgbdtrain",
	Short: "Train and checkpoint RGB-D classifiers",
	Long: `rgbdtrain drives supervised training of a two-modality (RGB + depth)
classifier: epochs of forward/backward passes, validation after every epoch,
best and latest checkpoints, and a final test evaluation.

Features:
  - Resume from any checkpoint, or the latest one of a run
  - Bounded checkpoint retention with integrity digests
  - Scalar metrics to logs, a JSON-lines file and Prometheus
  - Debug mode for quick iterations on a few batches`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetQuiet(quiet)

		if !noBanner && cmd.Name() == "train" {
			ui.PrintBanner()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./rgbdtrain.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and results")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "do not print the banner")

	rootCmd.SetVersionTemplate(`rgbdtrain {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
