package field

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/partitions"
	"math"
)

// DefaultThresholdScale is the factor applied to basePrecision*nx*ny
const DefaultThresholdScale = 0.25

// Threshold is the largest round-trip deviation classified as correct:
// basePrecision * nx * ny * scale. Rounding error grows with transform
// length, so the bound grows with the grid.
func Threshold(p Precision, g partitions.GlobalGrid, scale float64) float64 {
	return p.Base() * float64(g.Nx) * float64(g.Ny) * scale
}

// Verdict is the classified outcome of a round-trip check
type Verdict struct {
	MaxDiff   float64
	Threshold float64
	Pass      bool
}

func (v Verdict) String() string {
	if v.Pass {
		return "Results are correct"
	}
	return "Results are incorrect"
}

// MaxDiff returns the largest |out - expected| over the local pencil
func (f *Field[T]) MaxDiff(out []T) (float64, error) {
	if len(out) < f.Pencil.Count() {
		return 0, fmt.Errorf("verify: output holds %d samples, pencil has %d", len(out), f.Pencil.Count())
	}
	if f.Mode == Random && len(f.reference) != f.Pencil.Count() {
		return 0, fmt.Errorf("verify: field was not filled")
	}
	maxDiff := 0.0
	Walk(f.Pencil, func(i int, g [3]int) {
		d := math.Abs(float64(out[i]) - f.Expected(i, g))
		// NaN must not compare as a match
		if d > maxDiff || math.IsNaN(d) {
			maxDiff = d
		}
	})
	return maxDiff, nil
}

// Verify reduces the local maximum deviation across all ranks of c and
// classifies it against the precision-scaled threshold. Every rank receives
// the same verdict.
func Verify[T Float](ctx context.Context, c comm.Communicator, f *Field[T], out []T, scale float64) (Verdict, error) {
	local, err := f.MaxDiff(out)
	if err != nil {
		return Verdict{}, err
	}
	vals := []float64{local}
	if err := comm.AllreduceMax(ctx, c, vals); err != nil {
		return Verdict{}, fmt.Errorf("verify: %w", err)
	}
	v := Verdict{
		MaxDiff:   vals[0],
		Threshold: Threshold(f.Precision(), f.Grid, scale),
	}
	v.Pass = v.MaxDiff <= v.Threshold
	return v, nil
}
