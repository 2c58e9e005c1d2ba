package partitions

import (
	"fmt"
)

// Factorizer splits a process count into two factors
type Factorizer func(procs int) ProcessGrid

// DimsCreate returns the most balanced two-factor split of procs in
// non-increasing order, matching what MPI_Dims_create produces for 2 dims
func DimsCreate(procs int) ProcessGrid {
	d := 1
	for f := 1; f*f <= procs; f++ {
		if procs%f == 0 {
			d = f
		}
	}
	return ProcessGrid{Dims0: procs / d, Dims1: d}
}

// Resolver turns a decomposition dimensionality into a concrete process grid
type Resolver struct {
	// Factorizer is used when no hint is supplied; nil means DimsCreate
	Factorizer Factorizer
}

// Resolve produces a process grid for procs ranks. For dimensionality 2 the
// hint, if non-nil, fixes Dims0 and Dims1 is recomputed as procs/Dims0.
func (r *Resolver) Resolve(dimensionality, procs int, hint *ProcessGrid) (ProcessGrid, error) {
	if procs <= 0 {
		return ProcessGrid{}, fmt.Errorf("%w: process count %d", ErrInvalidProcessGrid, procs)
	}

	var pg ProcessGrid
	switch dimensionality {
	case 1:
		pg = ProcessGrid{Dims0: 1, Dims1: procs}
	case 2:
		if hint != nil {
			if hint.Dims0 <= 0 || procs%hint.Dims0 != 0 {
				return ProcessGrid{}, fmt.Errorf("%w: hinted dims0=%d does not divide %d processes",
					ErrInvalidProcessGrid, hint.Dims0, procs)
			}
			pg = ProcessGrid{Dims0: hint.Dims0, Dims1: hint.Dims1}
			if pg.Size() != procs {
				pg.Dims1 = procs / pg.Dims0
			}
		} else {
			factor := r.Factorizer
			if factor == nil {
				factor = DimsCreate
			}
			pg = factor(procs)
			// a smaller dims0 generally gives the engine cheaper exchanges
			if pg.Dims0 > pg.Dims1 {
				pg.Dims0, pg.Dims1 = pg.Dims1, pg.Dims0
			}
		}
	default:
		return ProcessGrid{}, fmt.Errorf("%w: decomposition dimensionality %d not in {1, 2}",
			ErrInvalidProcessGrid, dimensionality)
	}

	if err := pg.Validate(procs); err != nil {
		return ProcessGrid{}, err
	}
	return pg, nil
}
