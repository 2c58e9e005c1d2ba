package field

import (
	"context"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"math"
	"testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newField[T Float](t *testing.T, g partitions.GlobalGrid, p partitions.Pencil, mode Mode) *Field[T] {
	t.Helper()
	data, err := Alloc[T]("input", p.Count(), 0)
	require.NoError(t, err)
	f, err := New(g, p, mode, data)
	require.NoError(t, err)
	return f
}

func TestWalkOrder(t *testing.T) {
	p := partitions.NewPencil([3]int{2, 1, 3}, [3]int{2, 2, 2})
	var coords [][3]int
	Walk(p, func(i int, g [3]int) {
		assert.Equal(t, len(coords), i)
		x, y, z := g[0]-p.Start[0], g[1]-p.Start[1], g[2]-p.Start[2]
		assert.Equal(t, i, x+p.Size[0]*(y+p.Size[1]*z))
		coords = append(coords, g)
	})
	assert.Equal(t, [][3]int{
		{2, 1, 3}, {3, 1, 3}, {2, 2, 3}, {3, 2, 3},
		{2, 1, 4}, {3, 1, 4}, {2, 2, 4}, {3, 2, 4},
	}, coords)
}

func TestSineFill(t *testing.T) {
	g := partitions.GlobalGrid{Nx: 8, Ny: 4, Nz: 6}
	p := partitions.PencilFor(g, partitions.ProcessGrid{Dims0: 2, Dims1: 2}, partitions.RealSpace, 3)
	f := newField[float64](t, g, p, Sine)
	f.Fill(0, 3)

	Walk(p, func(i int, gc [3]int) {
		want := math.Sin(2*math.Pi*float64(gc[0])/8) *
			math.Sin(2*math.Pi*float64(gc[1])/4) *
			math.Sin(2*math.Pi*float64(gc[2])/6)
		assert.InDelta(t, want, f.Data[i], 1e-15)
		assert.Equal(t, f.Data[i], f.Expected(i, gc))
	})
}

func TestRandomFill(t *testing.T) {
	g := partitions.GlobalGrid{Nx: 8, Ny: 8, Nz: 8}
	p := partitions.PencilFor(g, partitions.ProcessGrid{Dims0: 1, Dims1: 1}, partitions.RealSpace, 0)

	a := newField[float64](t, g, p, Random)
	b := newField[float64](t, g, p, Random)
	c := newField[float64](t, g, p, Random)
	a.Fill(7, 0)
	b.Fill(7, 0)
	c.Fill(7, 1)

	assert.Equal(t, a.Data, b.Data, "same seed and rank reproduce the field")
	assert.NotEqual(t, a.Data, c.Data, "ranks draw independent streams")
	for i, v := range a.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		assert.Equal(t, v, a.Expected(i, [3]int{}))
	}

	// the reference survives the buffer being overwritten
	want := append([]float64(nil), a.Data...)
	for i := range a.Data {
		a.Data[i] = -1
	}
	d, err := a.MaxDiff(want)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestMaxDiff(t *testing.T) {
	g := partitions.GlobalGrid{Nx: 8, Ny: 8, Nz: 8}
	p := partitions.PencilFor(g, partitions.ProcessGrid{Dims0: 1, Dims1: 1}, partitions.RealSpace, 0)
	f := newField[float64](t, g, p, Random)

	_, err := f.MaxDiff(make([]float64, p.Count()))
	assert.Error(t, err, "unfilled random field")

	f.Fill(1, 0)
	out := append([]float64(nil), f.Data...)
	d, err := f.MaxDiff(out)
	require.NoError(t, err)
	assert.Zero(t, d)

	out[17] += 1.0
	d, err = f.MaxDiff(out)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-12)

	out[3] = math.NaN()
	d, err = f.MaxDiff(out)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(d))

	_, err = f.MaxDiff(out[:4])
	assert.Error(t, err)
}

func TestThreshold(t *testing.T) {
	g := partitions.GlobalGrid{Nx: 128, Ny: 128, Nz: 128}
	assert.InDelta(t, 1e-14*128*128*0.25, Threshold(Double, g, DefaultThresholdScale), 1e-24)
	assert.InDelta(t, 1e-5*128*128*1.25e-4, Threshold(Single, g, 1.25e-4), 1e-15)
	assert.Greater(t, Threshold(Single, g, 1), Threshold(Double, g, 1))

	assert.Equal(t, Single, PrecisionOf[float32]())
	assert.Equal(t, Double, PrecisionOf[float64]())
	assert.Equal(t, "Single precision", Single.String())
	assert.Equal(t, "Double precision", Double.String())
}

func TestVerifyAgreesAcrossRanks(t *testing.T) {
	g := partitions.GlobalGrid{Nx: 8, Ny: 8, Nz: 8}
	pg := partitions.ProcessGrid{Dims0: 1, Dims1: 2}

	for _, perturb := range []bool{false, true} {
		verdicts := make([]Verdict, pg.Size())
		err := comm.Run(context.Background(), pg.Size(), func(ctx context.Context, c comm.Communicator) error {
			p := partitions.PencilFor(g, pg, partitions.RealSpace, c.Rank())
			data := make([]float64, p.Count())
			f, err := New(g, p, Random, data)
			if err != nil {
				return err
			}
			f.Fill(42, c.Rank())
			out := append([]float64(nil), f.Data...)
			if perturb && c.Rank() == 1 {
				out[0] += 1.0
			}
			v, err := Verify(ctx, c, f, out, DefaultThresholdScale)
			if err != nil {
				return err
			}
			verdicts[c.Rank()] = v
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, verdicts[0], verdicts[1])
		assert.Equal(t, !perturb, verdicts[0].Pass)
		if perturb {
			assert.InDelta(t, 1.0, verdicts[0].MaxDiff, 1e-12)
			assert.Equal(t, "Results are incorrect", verdicts[0].String())
		} else {
			assert.Equal(t, "Results are correct", verdicts[0].String())
		}
	}
}

func TestAlloc(t *testing.T) {
	buf, err := Alloc[float32]("spectrum", 16, 64)
	require.NoError(t, err)
	assert.Len(t, buf, 16)

	_, err = Alloc[float64]("spectrum", 16, 64)
	assert.ErrorIs(t, err, ErrAllocation)
	_, err = Alloc[float64]("spectrum", -1, 0)
	assert.ErrorIs(t, err, ErrAllocation)

	_, err = New(partitions.GlobalGrid{Nx: 2, Ny: 2, Nz: 2},
		partitions.NewPencil([3]int{}, [3]int{2, 2, 2}), Sine, make([]float64, 4))
	assert.ErrorIs(t, err, ErrAllocation)
}
