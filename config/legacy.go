package config

import (
	"bufio"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"io"
	"io/fs"
	"os"
)

// Legacy defaults applied when the stdin file cannot be opened
var legacyDefault = [5]int{128, 128, 128, 2, 1}

// ApplyLegacy overlays the sample-driver input files on cfg. The stdin file
// holds "nx ny nz ndim repetitions"; when it cannot be opened the legacy
// defaults are used with a warning. The dims file holds "dims0 dims1"; when
// it is missing no hint is set and the grid is factorized automatically.
// An empty path skips that file.
func ApplyLegacy(cfg *Config, stdinPath, dimsPath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if stdinPath != "" {
		vals, err := readInts(stdinPath, 5)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("Cannot open file. Setting to default nx=ny=nz=128, ndim=2, n=1.",
				zap.String("file", stdinPath))
			vals = legacyDefault[:]
		case err != nil:
			return fmt.Errorf("%w: %s: %v", ErrConfiguration, stdinPath, err)
		}
		cfg.Grid = Grid{Nx: vals[0], Ny: vals[1], Nz: vals[2]}
		cfg.Decomposition = vals[3]
		cfg.Repetitions = vals[4]
	}

	if dimsPath != "" {
		vals, err := readInts(dimsPath, 2)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("Creating proc. grid by balanced factorization", zap.String("missing", dimsPath))
			cfg.Dims = nil
		case err != nil:
			return fmt.Errorf("%w: %s: %v", ErrConfiguration, dimsPath, err)
		default:
			logger.Info("Reading proc. grid from file", zap.String("file", dimsPath))
			cfg.Dims = vals
		}
	}
	return cfg.Validate()
}

// readInts reads the first n whitespace-separated integers of a file
func readInts(path string, n int) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	vals := make([]int, n)
	for i := range vals {
		if _, err := fmt.Fscan(r, &vals[i]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("expected %d integers, found %d", n, i)
			}
			return nil, err
		}
	}
	return vals, nil
}
