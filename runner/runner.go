// Package runner drives the round-trip harness. Every rank of an in-process
// world runs the same pipeline: agree on a process grid, initialize the
// engine, allocate and fill the field, time the round trips, then reduce the
// timings and verify the result. Rank 0 writes the console report.
package runner

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/config"
	"github.com/notargets/PencilBench/engine"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/timing"
	"go.uber.org/zap"
	"io"
	"sync"
)

// Result is what rank 0 observed for a completed run
type Result struct {
	ProcessGrid partitions.ProcessGrid
	Verdict     field.Verdict
	Summary     timing.Summary
	Statistics  *timing.RunStatistics
	Spread      timing.Spread
}

// Runner runs the harness for one configuration
type Runner struct {
	Config config.Config
	Out    io.Writer
	Logger *zap.Logger

	// Engine constructors, called once per rank; nil selects PencilEngine
	NewSingle func() engine.Engine[float32]
	NewDouble func() engine.Engine[float64]

	// Resolver maps the configuration to a process grid; nil uses DimsCreate
	Resolver *partitions.Resolver
}

// NewRunner creates a Runner writing its report to out
func NewRunner(cfg config.Config, out io.Writer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Config: cfg, Out: out, Logger: logger}
}

// Run executes the harness on Config.Procs ranks. A verification failure is
// reported in the result, not returned as an error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, err
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	prec, _ := r.Config.FieldPrecision()
	out := &lockedWriter{w: r.Out}
	res := &Result{}

	var err error
	switch prec {
	case field.Single:
		newEngine := r.NewSingle
		if newEngine == nil {
			newEngine = func() engine.Engine[float32] { return engine.NewPencilEngine[float32]() }
		}
		err = comm.Run(ctx, r.Config.Procs, func(ctx context.Context, c comm.Communicator) error {
			return runRank(ctx, r, c, newEngine, out, res)
		})
	default:
		newEngine := r.NewDouble
		if newEngine == nil {
			newEngine = func() engine.Engine[float64] { return engine.NewPencilEngine[float64]() }
		}
		err = comm.Run(ctx, r.Config.Procs, func(ctx context.Context, c comm.Communicator) error {
			return runRank(ctx, r, c, newEngine, out, res)
		})
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) resolver() *partitions.Resolver {
	if r.Resolver != nil {
		return r.Resolver
	}
	return &partitions.Resolver{}
}

// runRank is the per-rank pipeline. Setup failures are agreed on with AllOK
// so that every rank leaves at the same point; failures inside the round
// trip return at once and cancel the peers.
func runRank[T field.Float](ctx context.Context, r *Runner, c comm.Communicator,
	newEngine func() engine.Engine[T], out io.Writer, res *Result) error {
	cfg := &r.Config
	rank := c.Rank()
	root := rank == comm.Root
	logger := r.Logger.With(zap.Int("rank", rank))
	g := cfg.GlobalGrid()
	mode, _ := cfg.FieldMode()

	var (
		pg  partitions.ProcessGrid
		err error
	)
	if root {
		err = writeHeader(out, cfg, field.PrecisionOf[T]())
		if err == nil {
			pg, err = r.resolver().Resolve(cfg.Decomposition, c.Size(), cfg.Hint())
		}
	}
	if err = comm.AllOK(ctx, c, err); err != nil {
		return err
	}
	if pg, err = comm.Bcast(ctx, c, comm.Root, pg); err != nil {
		return err
	}
	if root {
		logger.Info("process grid resolved", zap.Stringer("grid", pg), zap.Int("procs", c.Size()))
		if _, err = fmt.Fprintf(out, "Using processor grid %d x %d\n", pg.Dims0, pg.Dims1); err != nil {
			return err
		}
	}

	eng := newEngine()
	var rp, sp partitions.Pencil
	memsize, err := eng.Init(ctx, c, pg, g, engine.Options{InPlace: cfg.InPlace})
	if err == nil {
		rp, err = eng.LocalLayout(partitions.RealSpace)
	}
	if err == nil {
		sp, err = eng.LocalLayout(partitions.TransformSpace)
	}
	if err != nil {
		err = &RankError{Rank: rank, Resource: "engine setup", Err: err}
	}
	if err = comm.AllOK(ctx, c, err); err != nil {
		return err
	}
	logger.Debug("local layout",
		zap.Stringer("real", rp), zap.Stringer("transform", sp), zap.Ints("memsize", memsize[:]))

	bufs, err := allocateBuffers[T](rp, sp, memsize, cfg.InPlace, cfg.MaxBufferBytes)
	var f *field.Field[T]
	if err == nil {
		f, err = field.New(g, rp, mode, bufs.Input)
	}
	if err != nil {
		err = &RankError{Rank: rank, Resource: "buffers", Err: err}
	}
	if err = comm.AllOK(ctx, c, err); err != nil {
		return err
	}
	f.Fill(cfg.Seed, rank)

	x := &Executor[T]{Engine: eng, Comm: c, Grid: g, Real: rp, Inner: cfg.Inner, Logger: logger}
	if cfg.DumpSpectrum {
		cutoff := float64(g.Count()) * 1e-2
		x.Inspect = func(spectrum []T) error { return field.WriteSpectrum(out, sp, spectrum, cutoff) }
	}
	rs, err := x.Execute(ctx, bufs, cfg.Repetitions)
	if err != nil {
		logger.Error("round trip failed", zap.Error(err))
		return &RankError{Rank: rank, Resource: "round trip", Err: err}
	}

	spread, err := rs.Spread(ctx, c, comm.Root)
	if err != nil {
		return err
	}
	if err := rs.Reduce(ctx, c); err != nil {
		return err
	}
	verdict, err := field.Verify(ctx, c, f, bufs.Output, cfg.ThresholdScale)
	if err != nil {
		return &RankError{Rank: rank, Resource: "verification", Err: err}
	}

	if root {
		sum, err := rs.Summarize()
		if err != nil {
			return err
		}
		logger.Info("round trip verified",
			zap.Bool("pass", verdict.Pass), zap.Float64("max_diff", verdict.MaxDiff),
			zap.Float64("threshold", verdict.Threshold), zap.Float64("fastest", sum.Fastest))
		if err := writeVerdict(out, verdict); err != nil {
			return err
		}
		if err := timing.WriteReport(out, sum, rs); err != nil {
			return err
		}
		if err := timing.WriteSpread(out, spread); err != nil {
			return err
		}
		*res = Result{ProcessGrid: pg, Verdict: verdict, Summary: sum, Statistics: rs, Spread: spread}
	}
	return comm.Barrier(ctx, c)
}

// lockedWriter serializes writes from concurrent ranks
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
