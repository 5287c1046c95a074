package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kntkb/espfit/internal/eval"
	"github.com/kntkb/espfit/internal/gate"
	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/system"
	"github.com/kntkb/espfit/internal/units"
	"gopkg.in/yaml.v3"
)

// #region types
// Config is the full configuration of a reweighting run.
type Config struct {
	DBPath         string        `yaml:"db_path"`
	EngineAddr     string        `yaml:"engine_addr"`
	ExperimentRoot string        `yaml:"experiment_root"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`
	Debug          bool          `yaml:"debug"`

	// Force-field parameter files handed to the simulation service.
	ReferenceParameters string `yaml:"reference_parameters"`
	CandidateParameters string `yaml:"candidate_parameters"`

	Gate    GateSection    `yaml:"gate"`
	Loss    LossSection    `yaml:"loss"`
	Systems []SystemConfig `yaml:"systems"`
}

// GateSection configures the ESS gate.
type GateSection struct {
	MinESS float64 `yaml:"min_ess"`
}

// LossSection configures the loss aggregator.
type LossSection struct {
	DefaultError float64 `yaml:"default_error"`
}

// SystemConfig describes one reference system.
type SystemConfig struct {
	TargetName  string  `yaml:"target_name"`
	TargetClass string  `yaml:"target_class"`
	Temperature float64 `yaml:"temperature"`
	AtomSubset  string  `yaml:"atom_subset"`
	OutputDir   string  `yaml:"output_dir"`
	NSteps      int     `yaml:"nsteps"`
}

// #endregion types

// #region defaults
// DefaultFile is searched for in the working directory when no path is given.
const DefaultFile = "espfit.yaml"

// DefaultConfig returns the default configuration without systems.
func DefaultConfig() *Config {
	return &Config{
		DBPath:              "espfit.db",
		EngineAddr:          "localhost:50051",
		ExperimentRoot:      "experiments",
		RPCTimeout:          10 * time.Minute,
		ReferenceParameters: "espaloma-0.3.2.pt",
		Gate:                GateSection{MinESS: gate.DefaultGateConfig().MinESS},
		Loss:                LossSection{DefaultError: loss.DefaultConfig().DefaultError},
	}
}

// #endregion defaults

// #region load
// Load reads configuration from path, or from DefaultFile when path is empty
// and the file exists. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		data, err = os.ReadFile(DefaultFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", DefaultFile, err)
		}
		path = DefaultFile
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DBPath = envOr("ESPFIT_DB", c.DBPath)
	c.EngineAddr = envOr("ESPFIT_ENGINE_ADDR", c.EngineAddr)
	c.ExperimentRoot = envOr("ESPFIT_EXPERIMENT_ROOT", c.ExperimentRoot)

	var err error
	if c.Gate.MinESS, err = envFloat("ESPFIT_MIN_ESS", c.Gate.MinESS); err != nil {
		return err
	}
	if c.Loss.DefaultError, err = envFloat("ESPFIT_DEFAULT_ERROR", c.Loss.DefaultError); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

// #endregion load

// #region validate
// Validate checks thresholds and the system list.
func (c *Config) Validate() error {
	if c.Gate.MinESS < 0 || c.Gate.MinESS > 1 {
		return fmt.Errorf("gate.min_ess %.4f outside [0, 1]", c.Gate.MinESS)
	}
	if c.Loss.DefaultError <= 0 {
		return fmt.Errorf("loss.default_error must be positive, got %.4f", c.Loss.DefaultError)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("rpc_timeout must be positive, got %v", c.RPCTimeout)
	}
	seen := make(map[string]bool, len(c.Systems))
	for i, s := range c.Systems {
		if s.TargetName == "" {
			return fmt.Errorf("systems[%d]: missing target_name", i)
		}
		if seen[s.TargetName] {
			return fmt.Errorf("systems[%d]: duplicate target_name %s", i, s.TargetName)
		}
		seen[s.TargetName] = true
		if s.Temperature <= 0 {
			return fmt.Errorf("systems[%d] %s: temperature must be positive", i, s.TargetName)
		}
		if s.NSteps < 0 {
			return fmt.Errorf("systems[%d] %s: negative nsteps", i, s.TargetName)
		}
	}
	return nil
}

// #endregion validate

// #region accessors
// GateConfig returns the gate thresholds.
func (c *Config) GateConfig() gate.GateConfig {
	return gate.GateConfig{MinESS: c.Gate.MinESS}
}

// LossConfig returns the loss aggregator config.
func (c *Config) LossConfig() loss.Config {
	return loss.Config{DefaultError: c.Loss.DefaultError}
}

// EvalConfig returns weight-check tolerances with the gate threshold as the ESS warning level.
func (c *Config) EvalConfig() eval.EvalConfig {
	cfg := eval.DefaultEvalConfig()
	cfg.MinESS = c.Gate.MinESS
	return cfg
}

// System builds the system record for s, bound to engine. An empty output
// directory defaults to the target name.
func (s SystemConfig) System(engine system.Engine) system.System {
	out := s.OutputDir
	if out == "" {
		out = s.TargetName
	}
	return system.System{
		TargetName:  s.TargetName,
		TargetClass: s.TargetClass,
		Temperature: units.Temperature(s.Temperature),
		AtomSubset:  s.AtomSubset,
		OutputDir:   out,
		NSteps:      s.NSteps,
		Engine:      engine,
	}
}

// #endregion accessors
