package engine

import (
	"fmt"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/utils"
)

// buildRowPlan builds the X-pencil -> Y-pencil exchange among the Dims0 ranks
// of one row. The source is the half-complex X-pencil (nxh, ny_i, nz_j); the
// destination is the Y-pencil (nx_i, ny, nz_j). Peer q owns complex x block q
// in the destination layout and y block q in the source layout.
func buildRowPlan(g partitions.GlobalGrid, pg partitions.ProcessGrid, xp, yp partitions.Pencil) (*utils.ExchangePlan, error) {
	nxh := g.ComplexNx()
	nyLoc, nzLoc := xp.Size[1], xp.Size[2]
	mx := yp.Size[0]

	ep, err := utils.NewExchangePlan(pg.Dims0, nxh*nyLoc*nzLoc, yp.Count())
	if err != nil {
		return nil, err
	}
	for q := 0; q < pg.Dims0; q++ {
		xs, xn := partitions.Block(nxh, pg.Dims0, q)
		for z := 0; z < nzLoc; z++ {
			for y := 0; y < nyLoc; y++ {
				for x := xs; x < xs+xn; x++ {
					ep.AddPick(q, x+nxh*(y+nyLoc*z))
				}
			}
		}

		ys, yn := partitions.Block(g.Ny, pg.Dims0, q)
		for z := 0; z < nzLoc; z++ {
			for y := ys; y < ys+yn; y++ {
				for x := 0; x < mx; x++ {
					ep.AddPlace(q, x+mx*(y+g.Ny*z))
				}
			}
		}
	}
	if err := ep.Verify(); err != nil {
		return nil, fmt.Errorf("row exchange plan: %w", err)
	}
	return ep, nil
}

// buildColumnPlan builds the Y-pencil -> Z-pencil exchange among the Dims1
// ranks of one column. The source is the Y-pencil (nx_i, ny, nz_j); the
// destination is the Z-pencil (nx_i, ny_j, nz). Peer q owns y block q in the
// destination layout and z block q in the source layout.
func buildColumnPlan(g partitions.GlobalGrid, pg partitions.ProcessGrid, yp, zp partitions.Pencil) (*utils.ExchangePlan, error) {
	mx := yp.Size[0]
	nzLoc := yp.Size[2]
	nyLoc := zp.Size[1]

	ep, err := utils.NewExchangePlan(pg.Dims1, yp.Count(), zp.Count())
	if err != nil {
		return nil, err
	}
	for q := 0; q < pg.Dims1; q++ {
		ys, yn := partitions.Block(g.Ny, pg.Dims1, q)
		for z := 0; z < nzLoc; z++ {
			for y := ys; y < ys+yn; y++ {
				for x := 0; x < mx; x++ {
					ep.AddPick(q, x+mx*(y+g.Ny*z))
				}
			}
		}

		zs, zn := partitions.Block(g.Nz, pg.Dims1, q)
		for z := zs; z < zs+zn; z++ {
			for y := 0; y < nyLoc; y++ {
				for x := 0; x < mx; x++ {
					ep.AddPlace(q, x+mx*(y+nyLoc*z))
				}
			}
		}
	}
	if err := ep.Verify(); err != nil {
		return nil, fmt.Errorf("column exchange plan: %w", err)
	}
	return ep, nil
}
