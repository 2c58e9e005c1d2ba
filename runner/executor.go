package runner

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/engine"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/timing"
	"go.uber.org/zap"
	"time"
)

// Buffers are the rank-local arrays of a round trip. In-place runs pass the
// same slice three times.
type Buffers[T field.Float] struct {
	Input    []T
	Spectrum []T
	Output   []T
}

// InPlace reports whether all three buffers share storage
func (b Buffers[T]) InPlace() bool {
	return len(b.Input) > 0 && len(b.Spectrum) > 0 && len(b.Output) > 0 &&
		&b.Input[0] == &b.Spectrum[0] && &b.Input[0] == &b.Output[0]
}

// Executor times repeated forward/backward round trips of one engine
type Executor[T field.Float] struct {
	Engine engine.Engine[T]
	Comm   comm.Communicator
	Grid   partitions.GlobalGrid
	Real   partitions.Pencil // real-space pencil of this rank
	Inner  int
	Logger *zap.Logger

	// Inspect, when set, sees the spectrum of the first forward transform
	Inspect func(spectrum []T) error
}

// Execute runs reps repetitions and returns this rank's unreduced statistics.
// Each repetition resets the stage timers, synchronizes all ranks, then
// times Inner round trips, each normalizing the output by nx*ny*nz. Wall and
// stage times are recorded per round trip.
//
// An engine failure is returned at once rather than agreed on: peers may be
// blocked inside an exchange with this rank, and only cancellation of the
// shared context releases them.
func (x *Executor[T]) Execute(ctx context.Context, bufs Buffers[T], reps int) (*timing.RunStatistics, error) {
	if x.Inner < 1 {
		return nil, fmt.Errorf("inner repetitions must be positive, got %d", x.Inner)
	}
	logger := x.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n := x.Real.Count()
	if len(bufs.Output) < n {
		return nil, fmt.Errorf("output buffer holds %d samples, pencil needs %d", len(bufs.Output), n)
	}
	norm := T(float64(x.Grid.Count()))
	out := bufs.Output[:n]
	inner := float64(x.Inner)
	inspect := x.Inspect

	rs := timing.NewRunStatistics(reps)
	for m := 0; m < reps; m++ {
		if x.Comm.Rank() == comm.Root {
			logger.Debug("Iteration", zap.Int("repetition", m))
		}
		x.Engine.ResetStageTimers()
		if err := comm.Barrier(ctx, x.Comm); err != nil {
			return nil, err
		}

		start := time.Now()
		for k := 0; k < x.Inner; k++ {
			if err := x.Engine.Forward(ctx, bufs.Input, bufs.Spectrum, engine.ForwardOp); err != nil {
				return nil, fmt.Errorf("forward transform, repetition %d: %w", m, err)
			}
			if inspect != nil {
				if err := inspect(bufs.Spectrum); err != nil {
					return nil, err
				}
				inspect = nil
			}
			if err := x.Engine.Backward(ctx, bufs.Spectrum, bufs.Output, engine.BackwardOp); err != nil {
				return nil, fmt.Errorf("backward transform, repetition %d: %w", m, err)
			}
			for i := range out {
				out[i] /= norm
			}
		}
		wall := time.Since(start).Seconds() / inner

		rs.Record(timing.Sample{
			Wall:   wall,
			Stages: x.Engine.StageTimers().Scale(1 / inner),
		})
	}
	return rs, nil
}
