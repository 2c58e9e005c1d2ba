// Package engine defines the boundary between the harness and a parallel 3D
// real-to-complex transform engine, and provides PencilEngine, a reference
// implementation built on gonum's FFTs and pencil transposes over comm.
package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/timing"
)

var (
	// ErrEngine is returned for engine setup and transform failures
	ErrEngine = errors.New("engine failure")
	// ErrLayout is returned for an unknown layout kind
	ErrLayout = errors.New("unknown layout")
)

// Default operation tags of the round trip
const (
	ForwardOp  = "fft"
	BackwardOp = "tff"
)

// Options configures engine initialization
type Options struct {
	// Storage is the global shape of the local storage; the zero value means
	// the global grid itself
	Storage partitions.GlobalGrid
	// InPlace declares that transforms may be called with src and dst
	// sharing one buffer
	InPlace bool
}

// Engine is a parallel 3D transform over a pencil decomposition. Forward
// maps a real-space buffer to an interleaved (re, im) transform-space buffer,
// Backward maps it back; neither normalizes.
//
// Operation tags have one character per axis in execution order (x, y, z for
// Forward; z, y, x for Backward): 'f' or 't' transforms that axis, 'n' skips it.
type Engine[T field.Float] interface {
	// Init prepares the engine for one grid and process grid and returns the
	// local storage shape, in T elements, a buffer needs to serve as both
	// input and output of an in-place transform
	Init(ctx context.Context, c comm.Communicator, pg partitions.ProcessGrid,
		g partitions.GlobalGrid, opts Options) ([3]int, error)
	// LocalLayout returns this rank's pencil for a layout
	LocalLayout(kind partitions.LayoutKind) (partitions.Pencil, error)
	Forward(ctx context.Context, src, dst []T, op string) error
	Backward(ctx context.Context, src, dst []T, op string) error
	// ResetStageTimers zeroes the accumulated stage timers
	ResetStageTimers()
	// StageTimers returns the stage durations accumulated since the last reset
	StageTimers() timing.Profile
}

// axisOps decodes a tag into per-axis transform flags in execution order
func axisOps(tag string) ([3]bool, error) {
	var ops [3]bool
	if len(tag) != 3 {
		return ops, fmt.Errorf("%w: operation tag %q must have 3 characters", ErrEngine, tag)
	}
	for a := 0; a < 3; a++ {
		switch tag[a] {
		case 'f', 't':
			ops[a] = true
		case 'n':
		default:
			return ops, fmt.Errorf("%w: operation tag %q: unknown axis operation %q", ErrEngine, tag, tag[a])
		}
	}
	return ops, nil
}
