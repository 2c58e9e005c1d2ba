// Package field holds the rank-local sample buffers of a distributed 3D
// field, fills them with reproducible patterns and verifies round trips.
package field

import (
	"errors"
	"fmt"
	"github.com/notargets/PencilBench/partitions"
	"unsafe"
)

// ErrAllocation is returned when a buffer exceeds the allocation budget
var ErrAllocation = errors.New("buffer allocation failed")

// Float is the sample type of a field
type Float interface {
	float32 | float64
}

// Precision is the numeric precision of a field
type Precision int

const (
	Double Precision = iota
	Single
)

// PrecisionOf returns the precision of sample type T
func PrecisionOf[T Float]() Precision {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return Single
	}
	return Double
}

// Base returns the per-sample rounding budget used to scale the
// verification threshold
func (p Precision) Base() float64 {
	if p == Single {
		return 1e-5
	}
	return 1e-14
}

func (p Precision) String() string {
	if p == Single {
		return "Single precision"
	}
	return "Double precision"
}

// Mode selects the initial pattern of a field
type Mode int

const (
	// Random fills uniform samples in [0, 1) and retains a reference copy
	Random Mode = iota
	// Sine fills sin(2*pi*gx/nx)*sin(2*pi*gy/ny)*sin(2*pi*gz/nz)
	Sine
)

func (m Mode) String() string {
	switch m {
	case Random:
		return "random"
	case Sine:
		return "sine"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// SizeOf returns the size in bytes of one sample of type T
func SizeOf[T Float]() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// Alloc allocates n samples, refusing requests above limitBytes (0 means no limit)
func Alloc[T Float](name string, n int, limitBytes int64) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %s: negative length %d", ErrAllocation, name, n)
	}
	if bytes := int64(n) * SizeOf[T](); limitBytes > 0 && bytes > limitBytes {
		return nil, fmt.Errorf("%w: %s needs %d bytes, budget is %d", ErrAllocation, name, bytes, limitBytes)
	}
	return make([]T, n), nil
}

// Field is one rank's part of a distributed real-space field
type Field[T Float] struct {
	Grid   partitions.GlobalGrid
	Pencil partitions.Pencil // real-space pencil of this rank
	Mode   Mode

	// Data holds the samples in pencil order, x fastest
	Data []T

	reference []T           // initial samples, Random mode only
	sines     [3][]float64 // per-axis sine tables, Sine mode only
}

// New wraps the first p.Count() samples of data as a field
func New[T Float](g partitions.GlobalGrid, p partitions.Pencil, mode Mode, data []T) (*Field[T], error) {
	if len(data) < p.Count() {
		return nil, fmt.Errorf("%w: field buffer holds %d samples, pencil needs %d",
			ErrAllocation, len(data), p.Count())
	}
	if mode != Random && mode != Sine {
		return nil, fmt.Errorf("unknown field mode %v", mode)
	}
	return &Field[T]{
		Grid:   g,
		Pencil: p,
		Mode:   mode,
		Data:   data[:p.Count()],
	}, nil
}

// Precision returns the precision of the field's samples
func (f *Field[T]) Precision() Precision {
	return PrecisionOf[T]()
}
