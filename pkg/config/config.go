// Package config provides configuration loading and management for neurotomo.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML. Once a
// field variant is constructed from it, the values are fixed for the model's
// lifetime.
type Config struct {
	// Training parameters
	Training struct {
		// LearningRate is the base optimizer learning rate.
		LearningRate float64 `yaml:"learningRate"`

		// ImagefitMode selects direct volume supervision instead of
		// projection (line-integral) supervision.
		ImagefitMode bool `yaml:"imagefitMode"`

		// RegularizationWeight scales the L1 smoothness penalty over
		// adjacent ray samples in projection mode.
		RegularizationWeight float64 `yaml:"regularizationWeight"`

		// Epochs is the number of training epochs to run.
		Epochs int `yaml:"epochs"`

		// BatchSize is the number of rays (or voxels) per training batch.
		BatchSize int `yaml:"batchSize"`
	} `yaml:"training"`

	// Model parameters
	Model struct {
		// Encoder selects the coordinate encoding; empty means raw
		// coordinates are fed to the network directly.
		Encoder string `yaml:"encoder"`

		// NumFreqBands is the number of frequency bands of the positional
		// encoder.
		NumFreqBands int `yaml:"numFreqBands"`

		// NumHiddenLayers is the count of hidden (width-preserving) layers.
		NumHiddenLayers int `yaml:"numHiddenLayers"`

		// NumHiddenFeatures is the hidden layer width.
		NumHiddenFeatures int `yaml:"numHiddenFeatures"`

		// ActivationFunction names the hidden nonlinearity.
		ActivationFunction string `yaml:"activationFunction"`

		// LatentSize is the per-volume latent code width (imagefit mode).
		LatentSize int `yaml:"latentSize"`
	} `yaml:"model"`

	// Runtime parameters
	Runtime struct {
		// NumWorkers bounds the goroutines used for the dense grid
		// reconstruction pass.
		NumWorkers int `yaml:"numWorkers"`

		// Seed drives weight and latent initialization.
		Seed int64 `yaml:"seed"`

		// OutputDir receives logged images and reconstructed slices.
		OutputDir string `yaml:"outputDir"`
	} `yaml:"runtime"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Training.LearningRate = 1e-4
	cfg.Training.ImagefitMode = false
	cfg.Training.RegularizationWeight = 1e-3
	cfg.Training.Epochs = 100
	cfg.Training.BatchSize = 256

	cfg.Model.Encoder = ""
	cfg.Model.NumFreqBands = 6
	cfg.Model.NumHiddenLayers = 4
	cfg.Model.NumHiddenFeatures = 256
	cfg.Model.ActivationFunction = "sine"
	cfg.Model.LatentSize = 64

	cfg.Runtime.NumWorkers = runtime.NumCPU()
	cfg.Runtime.Seed = 42
	cfg.Runtime.OutputDir = "results"

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the model cannot be built
// from.
func (c *Config) Validate() error {
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.Training.LearningRate)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Model.NumHiddenFeatures <= 0 {
		return fmt.Errorf("hidden features must be positive, got %d", c.Model.NumHiddenFeatures)
	}
	if c.Model.NumHiddenLayers < 0 {
		return fmt.Errorf("hidden layers must be non-negative, got %d", c.Model.NumHiddenLayers)
	}
	if c.Training.ImagefitMode && c.Model.LatentSize <= 0 {
		return fmt.Errorf("latent size must be positive in imagefit mode, got %d", c.Model.LatentSize)
	}
	if c.Runtime.NumWorkers <= 0 {
		c.Runtime.NumWorkers = runtime.NumCPU()
	}
	return nil
}
