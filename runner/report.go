package runner

import (
	"fmt"
	"github.com/notargets/PencilBench/config"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"io"
)

// writeHeader prints the run description that opens the report
func writeHeader(w io.Writer, cfg *config.Config, p field.Precision) error {
	g := cfg.Grid
	_, err := fmt.Fprintf(w, "%s\n%s\n (%d %d %d) grid\n %d proc. dimensions\n%d repetitions\n",
		cfg.Title(), p, g.Nx, g.Ny, g.Nz, cfg.Decomposition, cfg.Repetitions)
	return err
}

// writeVerdict prints the classification and the reduced deviation
func writeVerdict(w io.Writer, v field.Verdict) error {
	_, err := fmt.Fprintf(w, "%s\nmax diff =%g\n", v, v.MaxDiff)
	return err
}

// DescribeLayout prints every rank's real-space and transform-space pencil
// for a grid and process grid, after checking that each layout tiles the grid
func DescribeLayout(w io.Writer, g partitions.GlobalGrid, pg partitions.ProcessGrid) error {
	kinds := []partitions.LayoutKind{partitions.RealSpace, partitions.TransformSpace}
	layouts := make([]*partitions.Layout, len(kinds))
	for k, kind := range kinds {
		l, err := partitions.Decompose(g, pg, kind)
		if err != nil {
			return err
		}
		layouts[k] = l
	}

	if _, err := fmt.Fprintf(w, "grid %v, processor grid %v\n", g, pg); err != nil {
		return err
	}
	for rank := 0; rank < pg.Size(); rank++ {
		i, j := pg.Coords(rank)
		if _, err := fmt.Fprintf(w, "rank %d (%d,%d): %v %v, %v %v\n", rank, i, j,
			kinds[0], layouts[0].Pencils[rank], kinds[1], layouts[1].Pencils[rank]); err != nil {
			return err
		}
	}
	return nil
}
