package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rgbdtrain/pkg/config"
	"rgbdtrain/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage rgbdtrain configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (RGBDTRAIN_*)
  - Configuration file (YAML or TOML)
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file holding every option at its default.

The file is created as 'rgbdtrain.yaml' unless a different path is given
with --config. A .toml extension writes TOML.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Show the effective configuration after merging every source.`,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration for syntax errors and invalid values.

This command checks:
  - YAML or TOML syntax
  - Value types and ranges
  - Data file accessibility
  - Log root and log file writability`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "rgbdtrain.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s (remove it first to overwrite)", configPath)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	if !ui.IsQuiet() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "1. Edit the data and training sections")
		fmt.Fprintln(out, "2. Run 'rgbdtrain config validate' to check the configuration")
		fmt.Fprintln(out, "3. Start training with 'rgbdtrain train'")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	var problems []string
	if cfg.Data.Source == "jsonl" {
		for _, path := range []string{cfg.Data.TrainPath, cfg.Data.ValPath, cfg.Data.TestPath} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				problems = append(problems, fmt.Sprintf("data file not accessible: %v", err))
			}
		}
	}
	if err := os.MkdirAll(cfg.Run.LogRoot, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create log root: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			ui.PrintError("  - " + p)
		}
		return fmt.Errorf("%d configuration problem(s)", len(problems))
	}

	if cfg.Debug.Enabled {
		ui.PrintWarning("Debug mode is enabled: batches are capped and best accuracy is not persisted")
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Run directory", cfg.RunDir())
	ui.PrintInfo("Data source", cfg.Data.Source)
	ui.PrintInfo("Epochs", fmt.Sprintf("%d", cfg.Training.Epochs))
	ui.PrintInfo("Batch size", fmt.Sprintf("%d", cfg.Training.BatchSize))
	ui.PrintInfo("Log level", cfg.Logging.Level)
	return nil
}
