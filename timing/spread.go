package timing

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"gonum.org/v1/gonum/stat"
	"io"
	"strings"
)

// Spread is the per-stage load balance across ranks. Each rank contributes
// its stage durations averaged over the repetitions.
type Spread struct {
	Avg, Max, Min Profile
}

// Spread reduces the per-rank stage means to root with a sum, a max and a
// min. It must run before Reduce, which overwrites the per-rank values. The
// result is only meaningful on root.
func (rs *RunStatistics) Spread(ctx context.Context, c comm.Communicator, root int) (Spread, error) {
	n := len(rs.Samples)
	if n == 0 {
		return Spread{}, ErrNoSamples
	}
	var local Profile
	column := make([]float64, n)
	for st := Stage(0); st < NumStages; st++ {
		for m, s := range rs.Samples {
			column[m] = s.Stages[st]
		}
		local[st] = stat.Mean(column, nil)
	}

	var sp Spread
	for _, r := range []struct {
		op  comm.Op
		dst *Profile
	}{
		{comm.OpSum, &sp.Avg},
		{comm.OpMax, &sp.Max},
		{comm.OpMin, &sp.Min},
	} {
		vals := append([]float64(nil), local[:]...)
		if err := comm.Reduce(ctx, c, root, r.op, vals); err != nil {
			return Spread{}, fmt.Errorf("reduce stage spread: %w", err)
		}
		copy(r.dst[:], vals)
	}
	sp.Avg = sp.Avg.Scale(1 / float64(c.Size()))
	return sp, nil
}

// WriteSpread renders one "# <label> (avg/max/min)=" line per stage in
// summary order
func WriteSpread(w io.Writer, sp Spread) error {
	var b strings.Builder
	for _, st := range SummaryOrder {
		fmt.Fprintf(&b, "# %s (avg/max/min)=%.6e %.6e %.6e\n", st.Label(), sp.Avg[st], sp.Max[st], sp.Min[st])
	}
	_, err := io.WriteString(w, b.String())
	return err
}
