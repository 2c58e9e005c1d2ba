package runner

import (
	"bytes"
	"context"
	"errors"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/config"
	"github.com/notargets/PencilBench/engine"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func smallConfig(n, procs int) config.Config {
	cfg := config.Default()
	cfg.Grid = config.Grid{Nx: n, Ny: n, Nz: n}
	cfg.Procs = procs
	cfg.Repetitions = 2
	cfg.Inner = 2
	return cfg
}

func run(t *testing.T, cfg config.Config, mutate ...func(*Runner)) (*Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	r := NewRunner(cfg, &out, zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)))
	for _, m := range mutate {
		m(r)
	}
	res, err := r.Run(context.Background())
	return res, out.String(), err
}

func TestRunPassesSingleRank(t *testing.T) {
	res, out, err := run(t, smallConfig(8, 1))
	require.NoError(t, err)

	assert.True(t, res.Verdict.Pass)
	assert.Less(t, res.Verdict.MaxDiff, 1e-13)
	assert.Equal(t, partitions.ProcessGrid{Dims0: 1, Dims1: 1}, res.ProcessGrid)
	assert.Equal(t, 2, res.Statistics.Len())
	assert.Equal(t, 2, res.Summary.Repetitions)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6+2+12+2+int(timing.NumStages))
	assert.Equal(t, []string{
		"PencilBench test, random input",
		"Double precision",
		" (8 8 8) grid",
		" 2 proc. dimensions",
		"2 repetitions",
		"Using processor grid 1 x 1",
		"Results are correct",
	}, lines[:7])
	assert.True(t, strings.HasPrefix(lines[7], "max diff ="))
	assert.True(t, strings.HasPrefix(lines[8], "# Fastest="))
	assert.True(t, strings.HasPrefix(lines[9], "# Average="))
	assert.True(t, strings.HasPrefix(lines[10], "# r2c="))
	assert.Len(t, strings.Fields(lines[21]), int(timing.NumStages))
	assert.True(t, strings.HasPrefix(lines[22], "# r2c (avg/max/min)="))
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "# Alltoall_b0 (avg/max/min)="))

	// one rank: the spread collapses to that rank's mean stage times
	assert.Equal(t, res.Spread.Max, res.Spread.Min)
	assert.Equal(t, res.Spread.Max, res.Spread.Avg)
}

func TestRunPencilGrid(t *testing.T) {
	cfg := smallConfig(8, 4)
	cfg.Dims = []int{2}
	res, out, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, partitions.ProcessGrid{Dims0: 2, Dims1: 2}, res.ProcessGrid)
	assert.True(t, res.Verdict.Pass)
	assert.Contains(t, out, "Using processor grid 2 x 2\n")
	assert.Equal(t, 1, strings.Count(out, "Results are correct"), "only rank 0 reports")
}

func TestRunVariants(t *testing.T) {
	cases := []struct {
		name  string
		procs int
		edit  func(*config.Config)
	}{
		{"sine 4cube one rank", 1, func(c *config.Config) {
			c.Mode = "sine"
			c.Grid = config.Grid{Nx: 4, Ny: 4, Nz: 4}
			c.Repetitions = 1
		}},
		{"sine", 2, func(c *config.Config) { c.Mode = "sine"; c.Grid = config.Grid{Nx: 4, Ny: 4, Nz: 4} }},
		{"sine in-place", 4, func(c *config.Config) { c.Mode = "sine"; c.InPlace = true }},
		{"random in-place", 3, func(c *config.Config) { c.InPlace = true }},
		{"slab", 4, func(c *config.Config) { c.Decomposition = 1 }},
		{"single precision", 2, func(c *config.Config) { c.Precision = "single" }},
		{"uneven grid", 6, func(c *config.Config) { c.Grid = config.Grid{Nx: 10, Ny: 7, Nz: 5} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smallConfig(8, tc.procs)
			tc.edit(&cfg)
			res, out, err := run(t, cfg)
			require.NoError(t, err)
			assert.True(t, res.Verdict.Pass, "max diff %g threshold %g", res.Verdict.MaxDiff, res.Verdict.Threshold)
			assert.Contains(t, out, "Results are correct\n")
			if cfg.Precision == "double" {
				assert.Less(t, res.Verdict.MaxDiff, 1e-13)
			}
			assert.Equal(t, cfg.Repetitions, res.Summary.Repetitions)
		})
	}
}

func TestRunSlabUsesOneRow(t *testing.T) {
	cfg := smallConfig(8, 4)
	cfg.Decomposition = 1
	res, _, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, partitions.ProcessGrid{Dims0: 1, Dims1: 4}, res.ProcessGrid)
}

func TestRunDumpSpectrum(t *testing.T) {
	cfg := smallConfig(8, 2)
	cfg.Mode = "sine"
	cfg.DumpSpectrum = true
	_, out, err := run(t, cfg)
	require.NoError(t, err)
	// sin*sin*sin has eight nonzero coefficients on the half-complex x range
	// kx = 1, ky and kz in {1, n-1}: four lines, one per (ky, kz) pair
	for _, line := range []string{"(1,1,1) ", "(1,1,7) ", "(1,7,1) ", "(1,7,7) "} {
		assert.Equal(t, 1, strings.Count(out, line), line)
	}
}

// faultyEngine fails one call on one rank
type faultyEngine struct {
	*engine.PencilEngine[float64]
	rank     int
	failRank int
	failInit bool
	failFwd  bool
}

var errInjected = errors.New("injected engine failure")

func (e *faultyEngine) Init(ctx context.Context, c comm.Communicator, pg partitions.ProcessGrid,
	g partitions.GlobalGrid, opts engine.Options) ([3]int, error) {
	e.rank = c.Rank()
	if e.failInit && e.rank == e.failRank {
		return [3]int{}, errInjected
	}
	return e.PencilEngine.Init(ctx, c, pg, g, opts)
}

func (e *faultyEngine) Forward(ctx context.Context, src, dst []float64, op string) error {
	if e.failFwd && e.rank == e.failRank {
		return errInjected
	}
	return e.PencilEngine.Forward(ctx, src, dst, op)
}

func withFaultyEngine(failRank int, init, fwd bool) func(*Runner) {
	return func(r *Runner) {
		r.NewDouble = func() engine.Engine[float64] {
			return &faultyEngine{PencilEngine: engine.NewPencilEngine[float64](), failRank: failRank, failInit: init, failFwd: fwd}
		}
	}
}

func TestRunEngineFailureAbortsAllRanks(t *testing.T) {
	res, out, err := run(t, smallConfig(8, 4), withFaultyEngine(1, false, true))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errInjected)

	var re *RankError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Rank)
	assert.Equal(t, "round trip", re.Resource)
	assert.NotContains(t, out, "Results are")
	assert.NotContains(t, out, "# Fastest")
}

func TestRunInitFailureIsAgreed(t *testing.T) {
	_, out, err := run(t, smallConfig(8, 4), withFaultyEngine(2, true, false))
	require.Error(t, err)
	var re *RankError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Rank)
	assert.Equal(t, "engine setup", re.Resource)
	assert.NotContains(t, out, "Results are")
}

func TestRunAllocationBudget(t *testing.T) {
	cfg := smallConfig(8, 2)
	cfg.MaxBufferBytes = 1024
	_, out, err := run(t, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, field.ErrAllocation)
	var re *RankError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "buffers", re.Resource)
	assert.NotContains(t, out, "Results are")
}

func TestRunBadHint(t *testing.T) {
	cfg := smallConfig(8, 4)
	cfg.Dims = []int{3}
	_, _, err := run(t, cfg)
	assert.ErrorIs(t, err, partitions.ErrInvalidProcessGrid)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(8, 1)
	cfg.Inner = 0
	_, _, err := run(t, cfg)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestAllocateBuffers(t *testing.T) {
	rp := partitions.NewPencil([3]int{}, [3]int{8, 4, 4})
	sp := partitions.NewPencil([3]int{}, [3]int{5, 4, 8})

	b, err := allocateBuffers[float64](rp, sp, [3]int{10, 4, 8}, true, 0)
	require.NoError(t, err)
	assert.True(t, b.InPlace())
	assert.Len(t, b.Input, 320)

	b, err = allocateBuffers[float64](rp, sp, [3]int{}, false, 0)
	require.NoError(t, err)
	assert.False(t, b.InPlace())
	assert.Len(t, b.Input, 128)
	assert.Len(t, b.Spectrum, 320)
	assert.Len(t, b.Output, 128)

	// A and B fit, C does not
	_, err = allocateBuffers[float64](rp, sp, [3]int{}, false, 8*(128+320+64))
	require.Error(t, err)
	assert.ErrorIs(t, err, field.ErrAllocation)
	assert.Contains(t, err.Error(), "array C")
}

func TestDescribeLayout(t *testing.T) {
	var out bytes.Buffer
	err := DescribeLayout(&out, partitions.GlobalGrid{Nx: 8, Ny: 6, Nz: 4}, partitions.ProcessGrid{Dims0: 2, Dims1: 2})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "grid (8 6 4), processor grid 2 x 2", lines[0])
	assert.True(t, strings.HasPrefix(lines[4], "rank 3 (1,1): real-space start=[0 3 2]"))

	err = DescribeLayout(&out, partitions.GlobalGrid{Nx: 8, Ny: 6, Nz: 4}, partitions.ProcessGrid{Dims0: 0, Dims1: 2})
	assert.Error(t, err)
}
