package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a training run
type Config struct {
	// Run identity and output root
	Run RunConfig `yaml:"run" toml:"run" json:"run"`

	// Optimisation loop settings
	Training TrainingConfig `yaml:"training" toml:"training" json:"training"`

	// Data source settings
	Data DataConfig `yaml:"data" toml:"data" json:"data"`

	// Checkpoint saving policy
	Checkpoint CheckpointConfig `yaml:"checkpoint" toml:"checkpoint" json:"checkpoint"`

	// Development shortcuts
	Debug DebugConfig `yaml:"debug" toml:"debug" json:"debug"`

	// Scalar metric outputs
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
}

// RunConfig identifies the run and where its artifacts live.
// Artifacts are written under <log_root>/<name>.
type RunConfig struct {
	Name    string `yaml:"name" toml:"name" json:"name"`
	LogRoot string `yaml:"log_root" toml:"log_root" json:"log_root"`
}

// TrainingConfig holds loop and reference backend settings
type TrainingConfig struct {
	Epochs       int     `yaml:"epochs" toml:"epochs" json:"epochs"`
	BatchSize    int     `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	LearningRate float64 `yaml:"learning_rate" toml:"learning_rate" json:"learning_rate"`
	Momentum     float64 `yaml:"momentum" toml:"momentum" json:"momentum"`
	LogSteps     bool    `yaml:"log_steps" toml:"log_steps" json:"log_steps"`
	Seed         int64   `yaml:"seed" toml:"seed" json:"seed"`
}

// DataConfig selects and shapes the data sources
type DataConfig struct {
	// Source is "synthetic" or "jsonl"
	Source       string          `yaml:"source" toml:"source" json:"source"`
	TrainPath    string          `yaml:"train_path" toml:"train_path" json:"train_path"`
	ValPath      string          `yaml:"val_path" toml:"val_path" json:"val_path"`
	TestPath     string          `yaml:"test_path" toml:"test_path" json:"test_path"`
	ValFraction  float64         `yaml:"val_fraction" toml:"val_fraction" json:"val_fraction"`
	TestFraction float64         `yaml:"test_fraction" toml:"test_fraction" json:"test_fraction"`
	Prefetch     int             `yaml:"prefetch" toml:"prefetch" json:"prefetch"`
	Synthetic    SyntheticConfig `yaml:"synthetic" toml:"synthetic" json:"synthetic"`
}

// SyntheticConfig shapes the generated clustered dataset
type SyntheticConfig struct {
	Samples  int     `yaml:"samples" toml:"samples" json:"samples"`
	RGBDim   int     `yaml:"rgb_dim" toml:"rgb_dim" json:"rgb_dim"`
	DepthDim int     `yaml:"depth_dim" toml:"depth_dim" json:"depth_dim"`
	Classes  int     `yaml:"classes" toml:"classes" json:"classes"`
	Noise    float64 `yaml:"noise" toml:"noise" json:"noise"`
}

// CheckpointConfig holds checkpoint saving policy
type CheckpointConfig struct {
	Save         bool `yaml:"save" toml:"save" json:"save"`
	SaveBest     bool `yaml:"save_best" toml:"save_best" json:"save_best"`
	BestRetain   int  `yaml:"best_retain" toml:"best_retain" json:"best_retain"`
	LatestRetain int  `yaml:"latest_retain" toml:"latest_retain" json:"latest_retain"`
}

// DebugConfig holds development-mode behaviour
type DebugConfig struct {
	Enabled           bool    `yaml:"enabled" toml:"enabled" json:"enabled"`
	MaxBatches        int     `yaml:"max_batches" toml:"max_batches" json:"max_batches"`
	MinAccuracyToSave float64 `yaml:"min_accuracy_to_save" toml:"min_accuracy_to_save" json:"min_accuracy_to_save"`
	ZeroBestOnSave    bool    `yaml:"zero_best_on_save" toml:"zero_best_on_save" json:"zero_best_on_save"`
}

// MetricsConfig holds scalar sink configuration
type MetricsConfig struct {
	ScalarFile       bool   `yaml:"scalar_file" toml:"scalar_file" json:"scalar_file"`
	PrometheusListen string `yaml:"prometheus_listen" toml:"prometheus_listen" json:"prometheus_listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	File  string `yaml:"file" toml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Name:    "rgbd",
			LogRoot: "./runs",
		},
		Training: TrainingConfig{
			Epochs:       10,
			BatchSize:    16,
			LearningRate: 0.05,
			Momentum:     0.9,
			LogSteps:     true,
			Seed:         1,
		},
		Data: DataConfig{
			Source:       "synthetic",
			ValFraction:  0.15,
			TestFraction: 0.15,
			Prefetch:     2,
			Synthetic: SyntheticConfig{
				Samples:  600,
				RGBDim:   48,
				DepthDim: 16,
				Classes:  4,
				Noise:    0.6,
			},
		},
		Checkpoint: CheckpointConfig{
			Save:         true,
			SaveBest:     true,
			BestRetain:   3,
			LatestRetain: 1,
		},
		Debug: DebugConfig{
			Enabled:           false,
			MaxBatches:        5,
			MinAccuracyToSave: 0.8,
			ZeroBestOnSave:    true,
		},
		Metrics: MetricsConfig{
			ScalarFile:       true,
			PrometheusListen: "",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if name := os.Getenv("RGBDTRAIN_RUN_NAME"); name != "" {
		c.Run.Name = name
	}
	if root := os.Getenv("RGBDTRAIN_LOG_ROOT"); root != "" {
		c.Run.LogRoot = root
	}

	if epochs := os.Getenv("RGBDTRAIN_EPOCHS"); epochs != "" {
		val, err := strconv.Atoi(epochs)
		if err != nil {
			errs = append(errs, fmt.Errorf("RGBDTRAIN_EPOCHS: %w", err))
		} else {
			c.Training.Epochs = val
		}
	}
	if batch := os.Getenv("RGBDTRAIN_BATCH_SIZE"); batch != "" {
		val, err := strconv.Atoi(batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("RGBDTRAIN_BATCH_SIZE: %w", err))
		} else {
			c.Training.BatchSize = val
		}
	}
	if lr := os.Getenv("RGBDTRAIN_LEARNING_RATE"); lr != "" {
		val, err := strconv.ParseFloat(lr, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RGBDTRAIN_LEARNING_RATE: %w", err))
		} else {
			c.Training.LearningRate = val
		}
	}

	if source := os.Getenv("RGBDTRAIN_DATA_SOURCE"); source != "" {
		c.Data.Source = source
	}

	if debug := os.Getenv("RGBDTRAIN_DEBUG"); debug != "" {
		c.Debug.Enabled = strings.ToLower(debug) == "true" || debug == "1"
	}

	if listen := os.Getenv("RGBDTRAIN_PROMETHEUS_LISTEN"); listen != "" {
		c.Metrics.PrometheusListen = listen
	}

	if logLevel := os.Getenv("RGBDTRAIN_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or TOML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"rgbdtrain.yaml",
		"rgbdtrain.yml",
		"rgbdtrain.toml",
		filepath.Join(home, ".config", "rgbdtrain", "config.yaml"),
		filepath.Join(home, ".config", "rgbdtrain", "config.toml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Run.Name == "" {
		errs = append(errs, errors.New("run name is required"))
	}
	if strings.ContainsAny(c.Run.Name, `/\`) {
		errs = append(errs, errors.New("run name must not contain path separators"))
	}
	if c.Run.LogRoot == "" {
		errs = append(errs, errors.New("log root is required"))
	}

	if c.Training.Epochs < 0 {
		errs = append(errs, errors.New("epochs cannot be negative"))
	}
	if c.Training.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Training.LearningRate <= 0 {
		errs = append(errs, errors.New("learning rate must be positive"))
	}
	if c.Training.Momentum < 0 || c.Training.Momentum >= 1 {
		errs = append(errs, errors.New("momentum must be in [0, 1)"))
	}

	switch strings.ToLower(c.Data.Source) {
	case "synthetic":
		s := c.Data.Synthetic
		if s.Samples <= 0 || s.RGBDim <= 0 || s.DepthDim <= 0 {
			errs = append(errs, errors.New("synthetic samples and dimensions must be positive"))
		}
		if s.Classes < 2 {
			errs = append(errs, errors.New("synthetic classes must be at least 2"))
		}
		if s.Noise < 0 {
			errs = append(errs, errors.New("synthetic noise cannot be negative"))
		}
	case "jsonl":
		if c.Data.TrainPath == "" {
			errs = append(errs, errors.New("train path is required for jsonl data"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid data source %q", c.Data.Source))
	}
	if c.Data.ValFraction < 0 || c.Data.TestFraction < 0 || c.Data.ValFraction+c.Data.TestFraction >= 1 {
		errs = append(errs, errors.New("val and test fractions must be non-negative and sum below 1"))
	}
	if c.Data.Prefetch < 0 {
		errs = append(errs, errors.New("prefetch cannot be negative"))
	}

	if c.Checkpoint.BestRetain < 0 || c.Checkpoint.LatestRetain < 0 {
		errs = append(errs, errors.New("checkpoint retention cannot be negative"))
	}

	if c.Debug.MaxBatches < 0 {
		errs = append(errs, errors.New("debug max batches cannot be negative"))
	}
	if c.Debug.MinAccuracyToSave < 0 || c.Debug.MinAccuracyToSave > 1 {
		errs = append(errs, errors.New("debug min accuracy must be in [0, 1]"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// RunDir returns the directory holding the artifacts of this run
func (c *Config) RunDir() string {
	return filepath.Join(c.Run.LogRoot, c.Run.Name)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if name, ok := flags["run-name"].(string); ok && name != "" {
		c.Run.Name = name
	}
	if root, ok := flags["log-root"].(string); ok && root != "" {
		c.Run.LogRoot = root
	}
	if epochs, ok := flags["epochs"].(int); ok && epochs >= 0 {
		c.Training.Epochs = epochs
	}
	if batch, ok := flags["batch-size"].(int); ok && batch > 0 {
		c.Training.BatchSize = batch
	}
	if lr, ok := flags["learning-rate"].(float64); ok && lr > 0 {
		c.Training.LearningRate = lr
	}
	if debug, ok := flags["debug"].(bool); ok {
		c.Debug.Enabled = debug
	}
	if save, ok := flags["save"].(bool); ok {
		c.Checkpoint.Save = save
	}
	if saveBest, ok := flags["save-best"].(bool); ok {
		c.Checkpoint.SaveBest = saveBest
	}
	if listen, ok := flags["prometheus-listen"].(string); ok && listen != "" {
		c.Metrics.PrometheusListen = listen
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".rgbdtrain.env"))

	// Start with defaults
	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
