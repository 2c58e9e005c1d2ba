package comm

import (
	"context"
	"fmt"
	"math"
)

// Op is a reduction operation
type Op int

const (
	OpMax Op = iota
	OpMin
	OpSum
)

func (op Op) apply(acc, v float64) float64 {
	switch op {
	case OpMin:
		return math.Min(acc, v)
	case OpSum:
		return acc + v
	default:
		return math.Max(acc, v)
	}
}

func recvAs[T any](ctx context.Context, c Communicator, src int) (T, error) {
	var zero T
	msg, err := c.Recv(ctx, src)
	if err != nil {
		return zero, err
	}
	v, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("comm: rank %d got %T from rank %d, want %T", c.Rank(), msg, src, zero)
	}
	return v, nil
}

// Barrier blocks until every rank of c has entered it
func Barrier(ctx context.Context, c Communicator) error {
	if c.Rank() == Root {
		for src := 0; src < c.Size(); src++ {
			if src == Root {
				continue
			}
			if _, err := recvAs[struct{}](ctx, c, src); err != nil {
				return fmt.Errorf("barrier: %w", err)
			}
		}
		for dst := 0; dst < c.Size(); dst++ {
			if dst == Root {
				continue
			}
			if err := c.Send(ctx, dst, struct{}{}); err != nil {
				return fmt.Errorf("barrier: %w", err)
			}
		}
		return nil
	}
	if err := c.Send(ctx, Root, struct{}{}); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if _, err := recvAs[struct{}](ctx, c, Root); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

// Bcast distributes root's v to every rank and returns it. Reference types
// are shared, not copied; receivers must treat them as read-only.
func Bcast[T any](ctx context.Context, c Communicator, root int, v T) (T, error) {
	if c.Rank() == root {
		for dst := 0; dst < c.Size(); dst++ {
			if dst == root {
				continue
			}
			if err := c.Send(ctx, dst, v); err != nil {
				return v, fmt.Errorf("broadcast: %w", err)
			}
		}
		return v, nil
	}
	got, err := recvAs[T](ctx, c, root)
	if err != nil {
		return v, fmt.Errorf("broadcast: %w", err)
	}
	return got, nil
}

// Reduce combines vals componentwise across all ranks with op. The result
// replaces vals on root; other ranks' vals are left untouched. All ranks
// must pass slices of the same length.
func Reduce(ctx context.Context, c Communicator, root int, op Op, vals []float64) error {
	if c.Rank() != root {
		if err := c.Send(ctx, root, append([]float64(nil), vals...)); err != nil {
			return fmt.Errorf("reduce: %w", err)
		}
		return nil
	}
	for src := 0; src < c.Size(); src++ {
		if src == root {
			continue
		}
		in, err := recvAs[[]float64](ctx, c, src)
		if err != nil {
			return fmt.Errorf("reduce: %w", err)
		}
		if len(in) != len(vals) {
			return fmt.Errorf("reduce: rank %d sent %d values, root holds %d", src, len(in), len(vals))
		}
		for i, v := range in {
			vals[i] = op.apply(vals[i], v)
		}
	}
	return nil
}

// ReduceMax is Reduce with OpMax
func ReduceMax(ctx context.Context, c Communicator, root int, vals []float64) error {
	return Reduce(ctx, c, root, OpMax, vals)
}

// Allreduce combines vals componentwise across all ranks and leaves the
// result in vals on every rank
func Allreduce(ctx context.Context, c Communicator, op Op, vals []float64) error {
	if err := Reduce(ctx, c, Root, op, vals); err != nil {
		return err
	}
	out, err := Bcast(ctx, c, Root, append([]float64(nil), vals...))
	if err != nil {
		return err
	}
	copy(vals, out)
	return nil
}

// AllreduceMax is Allreduce with OpMax
func AllreduceMax(ctx context.Context, c Communicator, vals []float64) error {
	return Allreduce(ctx, c, OpMax, vals)
}

// Alltoallv sends send[dst] to every rank dst and returns recv with recv[src]
// holding what rank src sent to this rank. Block lengths may differ per pair.
func Alltoallv[T any](ctx context.Context, c Communicator, send [][]T) ([][]T, error) {
	if len(send) != c.Size() {
		return nil, fmt.Errorf("alltoallv: %d send blocks for %d ranks", len(send), c.Size())
	}
	me := c.Rank()
	// stagger destinations so ranks do not all target the same peer first
	for k := 0; k < c.Size(); k++ {
		dst := (me + k) % c.Size()
		if err := c.Send(ctx, dst, send[dst]); err != nil {
			return nil, fmt.Errorf("alltoallv: %w", err)
		}
	}
	recv := make([][]T, c.Size())
	for k := 0; k < c.Size(); k++ {
		src := (me - k + c.Size()) % c.Size()
		block, err := recvAs[[]T](ctx, c, src)
		if err != nil {
			return nil, fmt.Errorf("alltoallv: %w", err)
		}
		recv[src] = block
	}
	return recv, nil
}

// AllOK agrees across all ranks whether a step succeeded everywhere. It
// returns err on ranks where the step failed, ErrPeerFailed on ranks where it
// succeeded but some other rank failed, and nil only if every rank succeeded.
// Calling AllOK after every fallible step keeps control flow identical on all
// ranks so no rank is left waiting in a collective.
func AllOK(ctx context.Context, c Communicator, err error) error {
	flag := []float64{0}
	if err != nil {
		flag[0] = 1
	}
	if rerr := AllreduceMax(ctx, c, flag); rerr != nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPeerFailed, rerr)
	}
	if err != nil {
		return err
	}
	if flag[0] > 0 {
		return ErrPeerFailed
	}
	return nil
}
