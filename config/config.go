// Package config holds the run configuration of the harness. It is read from
// a YAML file, from the legacy stdin/dims files of the sample drivers, or
// from both, with command-line flags applied last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrConfiguration is returned for invalid configuration values
var ErrConfiguration = errors.New("invalid configuration")

// Grid is the global transform size
type Grid struct {
	Nx int `yaml:"nx"`
	Ny int `yaml:"ny"`
	Nz int `yaml:"nz"`
}

// Config is the full set of run parameters
type Config struct {
	Grid          Grid `yaml:"grid"`
	Decomposition int  `yaml:"decomposition"` // 1 = slab, 2 = pencil
	Repetitions   int  `yaml:"repetitions"`
	Inner         int  `yaml:"inner"` // round trips timed per repetition

	// Dims is an optional process grid hint, [dims0] or [dims0, dims1]
	Dims  []int `yaml:"dims,omitempty"`
	Procs int   `yaml:"procs"`

	Precision      string  `yaml:"precision"` // single, double
	Mode           string  `yaml:"mode"`      // random, sine
	InPlace        bool    `yaml:"in_place"`
	Seed           uint64  `yaml:"seed"`
	ThresholdScale float64 `yaml:"threshold_scale"`
	MaxBufferBytes int64   `yaml:"max_buffer_bytes"` // 0 means unlimited
	DumpSpectrum   bool    `yaml:"dump_spectrum"`
}

// Default returns the configuration used when no input names a value
func Default() Config {
	return Config{
		Grid:           Grid{Nx: 128, Ny: 128, Nz: 128},
		Decomposition:  2,
		Repetitions:    1,
		Inner:          3,
		Procs:          1,
		Precision:      "double",
		Mode:           "random",
		Seed:           1,
		ThresholdScale: field.DefaultThresholdScale,
	}
}

// Load reads a YAML configuration file over the defaults. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := decodeKnownFields(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decodeKnownFields(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// an empty document keeps the defaults
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv applies the PENCILBENCH_PROCS and PENCILBENCH_PRECISION
// environment overrides. A malformed value is an ErrConfiguration.
func ApplyEnv(c *Config) error {
	if v := os.Getenv("PENCILBENCH_PROCS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PENCILBENCH_PROCS=%q is not an integer", ErrConfiguration, v)
		}
		c.Procs = n
	}
	if v := os.Getenv("PENCILBENCH_PRECISION"); v != "" {
		c.Precision = strings.ToLower(v)
	}
	return nil
}

// Validate checks every value, returning ErrConfiguration on the first bad one
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}
	if err := c.GlobalGrid().Validate(); err != nil {
		return bad("%v", err)
	}
	if c.Decomposition != 1 && c.Decomposition != 2 {
		return bad("decomposition must be 1 or 2, got %d", c.Decomposition)
	}
	if c.Repetitions < 1 {
		return bad("repetitions must be positive, got %d", c.Repetitions)
	}
	if c.Inner < 1 {
		return bad("inner repetitions must be positive, got %d", c.Inner)
	}
	if c.Procs < 1 {
		return bad("procs must be positive, got %d", c.Procs)
	}
	if len(c.Dims) > 2 {
		return bad("dims takes at most two values, got %v", c.Dims)
	}
	for _, d := range c.Dims {
		if d <= 0 {
			return bad("dims must be positive, got %v", c.Dims)
		}
	}
	if _, err := c.FieldPrecision(); err != nil {
		return err
	}
	if _, err := c.FieldMode(); err != nil {
		return err
	}
	if c.ThresholdScale <= 0 {
		return bad("threshold_scale must be positive, got %g", c.ThresholdScale)
	}
	if c.MaxBufferBytes < 0 {
		return bad("max_buffer_bytes must not be negative, got %d", c.MaxBufferBytes)
	}
	return nil
}

// GlobalGrid returns the grid as a partitions.GlobalGrid
func (c *Config) GlobalGrid() partitions.GlobalGrid {
	return partitions.GlobalGrid{Nx: c.Grid.Nx, Ny: c.Grid.Ny, Nz: c.Grid.Nz}
}

// Hint returns the process grid hint, or nil when none was given
func (c *Config) Hint() *partitions.ProcessGrid {
	switch len(c.Dims) {
	case 0:
		return nil
	case 1:
		return &partitions.ProcessGrid{Dims0: c.Dims[0]}
	default:
		return &partitions.ProcessGrid{Dims0: c.Dims[0], Dims1: c.Dims[1]}
	}
}

// FieldPrecision parses Precision
func (c *Config) FieldPrecision() (field.Precision, error) {
	switch strings.ToLower(c.Precision) {
	case "double", "float64":
		return field.Double, nil
	case "single", "float32":
		return field.Single, nil
	default:
		return 0, fmt.Errorf("%w: unknown precision %q", ErrConfiguration, c.Precision)
	}
}

// FieldMode parses Mode
func (c *Config) FieldMode() (field.Mode, error) {
	switch strings.ToLower(c.Mode) {
	case "random":
		return field.Random, nil
	case "sine":
		return field.Sine, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, c.Mode)
	}
}

// Title is the first line of the console report
func (c *Config) Title() string {
	mode, _ := c.FieldMode()
	title := "PencilBench test, random input"
	if mode == field.Sine {
		title = "PencilBench test, 3D wave input"
	}
	if c.InPlace {
		title += ", in-place transform"
	}
	return title
}
