package partitions

import (
	"fmt"
)

// Block returns the start and extent of part idx when n points are split
// over parts contiguous blocks. The first n%parts blocks get one extra point.
func Block(n, parts, idx int) (start, size int) {
	base := n / parts
	rem := n % parts
	size = base
	if idx < rem {
		size++
		start = idx * (base + 1)
	} else {
		start = rem*(base+1) + (idx-rem)*base
	}
	return start, size
}

// PencilFor computes the pencil of one rank for a layout
func PencilFor(g GlobalGrid, pg ProcessGrid, kind LayoutKind, rank int) Pencil {
	i, j := pg.Coords(rank)
	nxh := g.ComplexNx()
	var start, size [3]int

	switch kind {
	case RealSpace:
		start[0], size[0] = 0, g.Nx
		start[1], size[1] = Block(g.Ny, pg.Dims0, i)
		start[2], size[2] = Block(g.Nz, pg.Dims1, j)
	case Intermediate:
		start[0], size[0] = Block(nxh, pg.Dims0, i)
		start[1], size[1] = 0, g.Ny
		start[2], size[2] = Block(g.Nz, pg.Dims1, j)
	case TransformSpace:
		start[0], size[0] = Block(nxh, pg.Dims0, i)
		start[1], size[1] = Block(g.Ny, pg.Dims1, j)
		start[2], size[2] = 0, g.Nz
	}
	return NewPencil(start, size)
}

// Decompose builds the pencils of every rank for a layout and validates the tiling
func Decompose(g GlobalGrid, pg ProcessGrid, kind LayoutKind) (*Layout, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := pg.Validate(pg.Size()); err != nil {
		return nil, err
	}

	layout := &Layout{
		Kind:    kind,
		Grid:    g,
		Procs:   pg,
		Pencils: make([]Pencil, pg.Size()),
	}
	for rank := range layout.Pencils {
		layout.Pencils[rank] = PencilFor(g, pg, kind, rank)
	}

	if err := layout.ValidateTiling(); err != nil {
		return nil, fmt.Errorf("invalid pencil layout: %w", err)
	}
	return layout, nil
}
