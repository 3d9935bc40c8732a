package main

import (
	"os"
	"strings"

	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/naserr"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a run. It is read from an optional YAML file
// and then overridden by the flags given on the command line.
type Config struct {
	InputShape []int `yaml:"input_shape"`
	NumClasses int   `yaml:"num_classes"`
	BatchSize  int   `yaml:"batch_size"`
	Steps      int   `yaml:"steps"`

	LearningRate    float32 `yaml:"learning_rate"`
	NASLearningRate float32 `yaml:"nas_learning_rate"`
	// Optimizer trains the network weights: "adam" or "sgd". The
	// architecture parameters always use Adam.
	Optimizer string  `yaml:"optimizer"`
	Momentum  float32 `yaml:"momentum"`
	// Strength weighs the size regularizer against the task loss.
	Strength float32 `yaml:"strength"`
	// SuperNet makes the second convolution a choice between two kernels.
	SuperNet bool `yaml:"supernet"`

	ExcludeNames []string `yaml:"exclude_names"`

	Quant   mixprec.Config `yaml:"quant"`
	Backend string         `yaml:"backend"`

	Output  string `yaml:"output"`
	Float16 bool   `yaml:"float16"`
}

// DefaultConfig returns the settings of the demo network.
func DefaultConfig() *Config {
	return &Config{
		InputShape:      []int{3, 40},
		NumClasses:      3,
		BatchSize:       16,
		Steps:           50,
		LearningRate:    1e-3,
		NASLearningRate: 1e-2,
		Optimizer:       "adam",
		Strength:        1e-6,
		Quant:           mixprec.DefaultConfig(),
		Backend:         "DORY",
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, naserr.Configurationf("parsing %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if len(c.InputShape) != 2 {
		return naserr.Configurationf("input_shape must be [channels, length], got %v", c.InputShape)
	}
	if c.InputShape[1]%4 != 0 {
		return naserr.Configurationf("input length must be a multiple of 4, got %d", c.InputShape[1])
	}
	if c.Steps < 0 || c.BatchSize <= 0 || c.NumClasses <= 0 {
		return naserr.Configurationf("steps, batch_size and num_classes must be positive")
	}
	switch strings.ToLower(c.Optimizer) {
	case "adam", "sgd":
	default:
		return naserr.Configurationf("optimizer must be adam or sgd, got %q", c.Optimizer)
	}
	return c.Quant.Validate()
}
