package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"deltar/internal/errors"
)

// Curve sources
const (
	SourceFiles = "files"
	SourceStore = "store"
)

// Config represents the complete application configuration
type Config struct {
	Sampling SamplingConfig `yaml:"sampling"`
	Curves   CurvesConfig   `yaml:"curves"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	LogLevel string         `yaml:"log_level"`
}

// SamplingConfig holds Monte Carlo defaults
type SamplingConfig struct {
	Iterations int     `yaml:"iterations" validate:"gte=1"`
	Confidence float64 `yaml:"confidence" validate:"gt=0,lt=1"`
	Seed       uint64  `yaml:"seed"`
	// Workers bounds concurrent chunks and columns; 0 means GOMAXPROCS
	Workers   int `yaml:"workers" validate:"gte=0"`
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`
}

// CurvesConfig names the calibration curves and where they come from
type CurvesConfig struct {
	Source    string `yaml:"source" validate:"oneof=files store"`
	Dir       string `yaml:"dir"`
	TablesDir string `yaml:"tables_dir"`
	Reservoir string `yaml:"reservoir" validate:"required"`
	Northern  string `yaml:"northern" validate:"required"`
	Southern  string `yaml:"southern" validate:"required"`
	// ProbabilityFloor trims calibrated calendar ages; 0 selects the convolver default
	ProbabilityFloor float64 `yaml:"probability_floor" validate:"gte=0,lt=1"`
}

// StoreConfig holds the SQL curve store connection
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
	// Slots bounds concurrent estimation work across requests; 0 keeps the server default
	Slots int `yaml:"slots" validate:"gte=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Sampling: SamplingConfig{
			Iterations: 10000,
			Confidence: 0.95,
			Seed:       1,
		},
		Curves: CurvesConfig{
			Source:    SourceFiles,
			Dir:       "./data/curves",
			TablesDir: "./data/tables",
			Reservoir: "marine20",
			Northern:  "intcal20",
			Southern:  "shcal20",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "file:deltar.db",
		},
		Server:   ServerConfig{Port: "8080"},
		LogLevel: "INFO",
	}
}

// Load builds the configuration from defaults, the YAML file named by DELTAR_CONFIG
// (if any), then DELTAR_* environment variables, and validates the result
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("DELTAR_CONFIG"); path != "" {
		if err := config.overlayFile(path); err != nil {
			return nil, errors.Wrap(err, "failed to load configuration file")
		}
	}

	if err := config.overlayEnv(); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("cannot parse %s: %v", path, err))
	}
	return nil
}

func (c *Config) overlayEnv() error {
	env := &envReader{}

	c.Sampling.Iterations = env.int("DELTAR_ITERATIONS", c.Sampling.Iterations)
	c.Sampling.Confidence = env.float("DELTAR_CONFIDENCE", c.Sampling.Confidence)
	c.Sampling.Seed = env.uint("DELTAR_SEED", c.Sampling.Seed)
	c.Sampling.Workers = env.int("DELTAR_WORKERS", c.Sampling.Workers)
	c.Sampling.ChunkSize = env.int("DELTAR_CHUNK_SIZE", c.Sampling.ChunkSize)

	c.Curves.Source = getEnvOrDefault("DELTAR_CURVE_SOURCE", c.Curves.Source)
	c.Curves.Dir = getEnvOrDefault("DELTAR_CURVES_DIR", c.Curves.Dir)
	c.Curves.TablesDir = getEnvOrDefault("DELTAR_TABLES_DIR", c.Curves.TablesDir)
	c.Curves.Reservoir = getEnvOrDefault("DELTAR_RESERVOIR_CURVE", c.Curves.Reservoir)
	c.Curves.Northern = getEnvOrDefault("DELTAR_NH_CURVE", c.Curves.Northern)
	c.Curves.Southern = getEnvOrDefault("DELTAR_SH_CURVE", c.Curves.Southern)
	c.Curves.ProbabilityFloor = env.float("DELTAR_PROBABILITY_FLOOR", c.Curves.ProbabilityFloor)

	c.Store.Driver = getEnvOrDefault("DELTAR_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnvOrDefault("DELTAR_STORE_DSN", c.Store.DSN)

	c.Server.Port = getEnvOrDefault("DELTAR_PORT", getEnvOrDefault("PORT", c.Server.Port))
	c.Server.Slots = env.int("DELTAR_SERVER_SLOTS", c.Server.Slots)
	c.LogLevel = getEnvOrDefault("DELTAR_LOG_LEVEL", c.LogLevel)

	return env.err
}

var validate = validator.New()

// Validate checks the configuration invariants
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var problems []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
		return errors.ConfigInvalid(strings.Join(problems, "; "))
	}
	if c.Curves.Source == SourceStore && (c.Store.Driver == "" || c.Store.DSN == "") {
		return errors.ConfigInvalid("curve source store needs a store driver and DSN")
	}
	if c.Curves.Source == SourceFiles && c.Curves.Dir == "" {
		return errors.ConfigInvalid("curve source files needs a curves directory")
	}
	return nil
}

// envReader parses typed environment variables and remembers the first malformed one
type envReader struct {
	err error
}

func (r *envReader) fail(key, value string) {
	if r.err == nil {
		r.err = errors.ConfigInvalid(fmt.Sprintf("%s: cannot parse %q", key, value))
	}
}

func (r *envReader) int(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return intValue
	}
	return defaultValue
}

func (r *envReader) uint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		uintValue, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return uintValue
	}
	return defaultValue
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			r.fail(key, value)
			return defaultValue
		}
		return floatValue
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
