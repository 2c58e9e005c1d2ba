package runner

import (
	"fmt"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
)

// allocator hands out buffers against one per-rank byte budget
type allocator struct {
	limit int64 // 0 means unlimited
	used  int64
}

func allocate[T field.Float](a *allocator, name string, n int) ([]T, error) {
	remaining := int64(0)
	if a.limit > 0 {
		remaining = a.limit - a.used
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s: budget of %d bytes exhausted", field.ErrAllocation, name, a.limit)
		}
	}
	buf, err := field.Alloc[T](name, n, remaining)
	if err != nil {
		return nil, err
	}
	a.used += int64(n) * field.SizeOf[T]()
	return buf, nil
}

// allocateBuffers sizes the round-trip arrays from the engine's layouts.
// Out-of-place runs get input A and output C of the real-space pencil and a
// spectrum B of interleaved complex values. In-place runs get one array large
// enough for either view and for the engine's requested storage shape.
func allocateBuffers[T field.Float](rp, sp partitions.Pencil, memsize [3]int, inPlace bool, limit int64) (Buffers[T], error) {
	a := &allocator{limit: limit}
	if inPlace {
		n := max(rp.Count(), 2*sp.Count(), memsize[0]*memsize[1]*memsize[2])
		buf, err := allocate[T](a, "array A", n)
		if err != nil {
			return Buffers[T]{}, err
		}
		return Buffers[T]{Input: buf, Spectrum: buf, Output: buf}, nil
	}

	in, err := allocate[T](a, "array A", rp.Count())
	if err != nil {
		return Buffers[T]{}, err
	}
	spectrum, err := allocate[T](a, "array B", 2*sp.Count())
	if err != nil {
		return Buffers[T]{}, err
	}
	out, err := allocate[T](a, "array C", rp.Count())
	if err != nil {
		return Buffers[T]{}, err
	}
	return Buffers[T]{Input: in, Spectrum: spectrum, Output: out}, nil
}
