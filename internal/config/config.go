package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/limblift/internal/dlc"
	"github.com/andresmejia3/limblift/internal/sequence"
	"github.com/andresmejia3/limblift/internal/solver"
	"github.com/andresmejia3/limblift/internal/types"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LIMBLIFT_SOLVER_WORKERS.
const EnvPrefix = "LIMBLIFT"

// Config is the fully resolved run configuration.
type Config struct {
	LogLevel  string                `mapstructure:"logLevel"`
	OutputDir string                `mapstructure:"outputDir"`
	DB        DBConfig              `mapstructure:"db"`
	Lengths   types.SegmentLengths  `mapstructure:"lengths"`
	Initial   types.KinematicParams `mapstructure:"initial"`
	Solver    SolverConfig          `mapstructure:"solver"`
	Sequence  SequenceConfig        `mapstructure:"sequence"`
	DLC       DLCConfig             `mapstructure:"dlc"`
}

// DBConfig locates the PostgreSQL result store.
type DBConfig struct {
	URL     string `mapstructure:"url"`
	Persist bool   `mapstructure:"persist"`
}

// SolverConfig holds the per-frame optimizer settings.
type SolverConfig struct {
	MaxIterations      int           `mapstructure:"maxIterations"`
	MaxEvaluations     int           `mapstructure:"maxEvaluations"`
	GradientThreshold  float64       `mapstructure:"gradientThreshold"`
	FunctionAbsTol     float64       `mapstructure:"functionAbsTol"`
	FunctionRelTol     float64       `mapstructure:"functionRelTol"`
	ConvergeIterations int           `mapstructure:"convergeIterations"`
	Memory             int           `mapstructure:"memory"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Gradient           string        `mapstructure:"gradient"`
	Bounds             BoundsConfig  `mapstructure:"bounds"`
}

// BoundsConfig leaves a side open when it is unset.
type BoundsConfig struct {
	DepthBase BoundConfig `mapstructure:"depth_base"`
	Theta1    BoundConfig `mapstructure:"theta1"`
	Theta2    BoundConfig `mapstructure:"theta2"`
}

type BoundConfig struct {
	Lower *float64 `mapstructure:"lower"`
	Upper *float64 `mapstructure:"upper"`
}

// SequenceConfig holds the per-video policies.
type SequenceConfig struct {
	Workers   int    `mapstructure:"workers"`
	WarmStart bool   `mapstructure:"warmStart"`
	OnFailure string `mapstructure:"onFailure"`
}

// DLCConfig selects joints out of a DeepLabCut export.
type DLCConfig struct {
	Bodyparts     []string `mapstructure:"bodyparts"`
	MinLikelihood float64  `mapstructure:"minLikelihood"`
	DropMissing   bool     `mapstructure:"dropMissing"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := solver.DefaultOptions()

	v.SetDefault("logLevel", "info")
	v.SetDefault("outputDir", "./output")

	v.SetDefault("db.url", "")
	v.SetDefault("db.persist", false)

	v.SetDefault("lengths.l1", 5.0)
	v.SetDefault("lengths.l2", 4.0)
	v.SetDefault("initial.depth_base", 0.0)
	v.SetDefault("initial.theta1", 1.57)
	v.SetDefault("initial.theta2", 1.57)

	v.SetDefault("solver.maxIterations", d.MaxIterations)
	v.SetDefault("solver.maxEvaluations", d.MaxEvaluations)
	v.SetDefault("solver.gradientThreshold", d.GradientThreshold)
	v.SetDefault("solver.functionAbsTol", d.FunctionAbsTol)
	v.SetDefault("solver.functionRelTol", d.FunctionRelTol)
	v.SetDefault("solver.convergeIterations", d.ConvergeIterations)
	v.SetDefault("solver.memory", d.Memory)
	v.SetDefault("solver.timeout", time.Duration(0))
	v.SetDefault("solver.gradient", string(d.Gradient))

	v.SetDefault("sequence.workers", 1)
	v.SetDefault("sequence.warmStart", false)
	v.SetDefault("sequence.onFailure", "skip")

	v.SetDefault("dlc.bodyparts", dlc.DefaultBodyparts[:])
	v.SetDefault("dlc.minLikelihood", 0.0)
	v.SetDefault("dlc.dropMissing", false)
}

// Load reads configuration from an optional file (json, yaml or toml by extension)
// and LIMBLIFT_* environment variables on top of the defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.DB.URL == "" {
		cfg.DB.URL = databaseURLFromEnv()
	}
	return &cfg, nil
}

// databaseURLFromEnv builds the connection string from POSTGRES_* variables,
// falling back to a local default.
func databaseURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/limblift"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// SolverOptions converts the solver section into solver.Options.
func (c *Config) SolverOptions() solver.Options {
	s := c.Solver
	return solver.Options{
		MaxIterations:      s.MaxIterations,
		MaxEvaluations:     s.MaxEvaluations,
		GradientThreshold:  s.GradientThreshold,
		FunctionAbsTol:     s.FunctionAbsTol,
		FunctionRelTol:     s.FunctionRelTol,
		ConvergeIterations: s.ConvergeIterations,
		Memory:             s.Memory,
		Runtime:            s.Timeout,
		Gradient:           solver.GradientMode(s.Gradient),
		Bounds: solver.Bounds{
			DepthBase: s.Bounds.DepthBase.bound(),
			Theta1:    s.Bounds.Theta1.bound(),
			Theta2:    s.Bounds.Theta2.bound(),
		},
	}
}

func (b BoundConfig) bound() *solver.Bound {
	if b.Lower == nil && b.Upper == nil {
		return nil
	}
	out := solver.Unbounded()
	if b.Lower != nil {
		out.Lower = *b.Lower
	}
	if b.Upper != nil {
		out.Upper = *b.Upper
	}
	return &out
}

// Policies converts the sequence section into processor policies.
func (c *Config) Policies() (sequence.StartPolicy, sequence.FailurePolicy, error) {
	start := sequence.FixedInitialGuess
	if c.Sequence.WarmStart {
		start = sequence.PreviousFrameResult
	}

	switch strings.ToLower(c.Sequence.OnFailure) {
	case "", "skip":
		return start, sequence.SkipFailedFrames, nil
	case "abort":
		return start, sequence.AbortOnFailure, nil
	default:
		return start, 0, fmt.Errorf("unknown failure policy %q (want skip or abort)", c.Sequence.OnFailure)
	}
}

// ReaderOptions converts the dlc section into dlc.Options.
func (c *Config) ReaderOptions() (dlc.Options, error) {
	opts := dlc.Options{MinLikelihood: c.DLC.MinLikelihood, DropMissing: c.DLC.DropMissing}
	if len(c.DLC.Bodyparts) != types.NumJoints {
		return opts, fmt.Errorf("need exactly %d bodyparts (base, mid, end), got %v", types.NumJoints, c.DLC.Bodyparts)
	}
	copy(opts.Bodyparts[:], c.DLC.Bodyparts)
	if c.DLC.MinLikelihood < 0 || c.DLC.MinLikelihood > 1 || math.IsNaN(c.DLC.MinLikelihood) {
		return opts, fmt.Errorf("minLikelihood %v must be within [0, 1]", c.DLC.MinLikelihood)
	}
	return opts, nil
}
