package partitions

import (
	"errors"
	"fmt"
)

// ErrInvalidProcessGrid is returned when a process grid cannot tile the process count
var ErrInvalidProcessGrid = errors.New("invalid process grid")

// LayoutKind identifies one of the canonical ways the global domain is sliced
type LayoutKind uint8

const (
	// RealSpace holds real samples: x whole, y split over Dims0, z split over Dims1
	RealSpace LayoutKind = iota
	// TransformSpace holds complex samples on x in [0, nx/2+1): x split over Dims0,
	// y split over Dims1, z whole
	TransformSpace
	// Intermediate is the Y-pencil the engine passes through between the two
	// canonical layouts: x split over Dims0, y whole, z split over Dims1
	Intermediate
)

func (k LayoutKind) String() string {
	switch k {
	case RealSpace:
		return "real-space"
	case TransformSpace:
		return "transform-space"
	case Intermediate:
		return "intermediate"
	default:
		return fmt.Sprintf("LayoutKind(%d)", uint8(k))
	}
}

// GlobalGrid is the logical size of the full 3D domain
type GlobalGrid struct {
	Nx, Ny, Nz int
}

// Count returns the total number of real samples in the domain
func (g GlobalGrid) Count() int {
	return g.Nx * g.Ny * g.Nz
}

// ComplexNx returns the x extent of the half-complex spectrum
func (g GlobalGrid) ComplexNx() int {
	return g.Nx/2 + 1
}

// Extents returns the global array shape of a layout
func (g GlobalGrid) Extents(kind LayoutKind) [3]int {
	if kind == RealSpace {
		return [3]int{g.Nx, g.Ny, g.Nz}
	}
	return [3]int{g.ComplexNx(), g.Ny, g.Nz}
}

// Validate checks all extents are positive
func (g GlobalGrid) Validate() error {
	if g.Nx <= 0 || g.Ny <= 0 || g.Nz <= 0 {
		return fmt.Errorf("grid extents must be positive, got (%d %d %d)", g.Nx, g.Ny, g.Nz)
	}
	return nil
}

func (g GlobalGrid) String() string {
	return fmt.Sprintf("(%d %d %d)", g.Nx, g.Ny, g.Nz)
}

// ProcessGrid is the 2D arrangement of ranks over two of the three axes
type ProcessGrid struct {
	Dims0, Dims1 int
}

// Size returns the number of ranks the grid arranges
func (pg ProcessGrid) Size() int {
	return pg.Dims0 * pg.Dims1
}

// Validate checks Dims0*Dims1 == procs
func (pg ProcessGrid) Validate(procs int) error {
	if pg.Dims0 <= 0 || pg.Dims1 <= 0 {
		return fmt.Errorf("%w: dims (%d %d) must be positive", ErrInvalidProcessGrid, pg.Dims0, pg.Dims1)
	}
	if pg.Size() != procs {
		return fmt.Errorf("%w: %d x %d != %d processes", ErrInvalidProcessGrid, pg.Dims0, pg.Dims1, procs)
	}
	return nil
}

// Coords returns the (i, j) position of a rank; rank = i + j*Dims0
func (pg ProcessGrid) Coords(rank int) (i, j int) {
	return rank % pg.Dims0, rank / pg.Dims0
}

// Rank returns the rank at position (i, j)
func (pg ProcessGrid) Rank(i, j int) int {
	return i + j*pg.Dims0
}

// RowRanks returns the ranks sharing row j, ordered by i
func (pg ProcessGrid) RowRanks(j int) []int {
	ranks := make([]int, pg.Dims0)
	for i := range ranks {
		ranks[i] = pg.Rank(i, j)
	}
	return ranks
}

// ColumnRanks returns the ranks sharing column i, ordered by j
func (pg ProcessGrid) ColumnRanks(i int) []int {
	ranks := make([]int, pg.Dims1)
	for j := range ranks {
		ranks[j] = pg.Rank(i, j)
	}
	return ranks
}

func (pg ProcessGrid) String() string {
	return fmt.Sprintf("%d x %d", pg.Dims0, pg.Dims1)
}

// Pencil is the sub-box of the global domain owned by one rank under one layout.
// Indices are 0-based; Start is inclusive and End is exclusive. Axis 0 (x) is stride-1.
type Pencil struct {
	Start [3]int
	Size  [3]int
	End   [3]int
}

// NewPencil builds a pencil from its start and size
func NewPencil(start, size [3]int) Pencil {
	p := Pencil{Start: start, Size: size}
	for d := 0; d < 3; d++ {
		p.End[d] = start[d] + size[d]
	}
	return p
}

// Count returns the number of samples in the pencil
func (p Pencil) Count() int {
	return p.Size[0] * p.Size[1] * p.Size[2]
}

// Overlaps reports whether two pencils share any sample
func (p Pencil) Overlaps(o Pencil) bool {
	for d := 0; d < 3; d++ {
		if p.Size[d] == 0 || o.Size[d] == 0 {
			return false
		}
		if p.End[d] <= o.Start[d] || o.End[d] <= p.Start[d] {
			return false
		}
	}
	return true
}

func (p Pencil) String() string {
	return fmt.Sprintf("start=%v size=%v end=%v", p.Start, p.Size, p.End)
}

// Layout is the set of pencils of every rank for one layout kind
type Layout struct {
	Kind    LayoutKind
	Grid    GlobalGrid
	Procs   ProcessGrid
	Pencils []Pencil // indexed by rank
}

// Total returns the sum of all pencil sample counts
func (l *Layout) Total() int {
	total := 0
	for _, p := range l.Pencils {
		total += p.Count()
	}
	return total
}

// ValidateTiling checks that the pencils cover the global array exactly once
func (l *Layout) ValidateTiling() error {
	ext := l.Grid.Extents(l.Kind)
	want := ext[0] * ext[1] * ext[2]
	if got := l.Total(); got != want {
		return fmt.Errorf("%s layout: pencils hold %d samples, global array has %d", l.Kind, got, want)
	}
	for r, p := range l.Pencils {
		for d := 0; d < 3; d++ {
			if p.Start[d] < 0 || p.End[d] > ext[d] {
				return fmt.Errorf("%s layout: rank %d pencil %v exceeds extents %v", l.Kind, r, p, ext)
			}
		}
	}
	// equal totals plus pairwise disjointness implies exact cover
	for a := 0; a < len(l.Pencils); a++ {
		for b := a + 1; b < len(l.Pencils); b++ {
			if l.Pencils[a].Overlaps(l.Pencils[b]) {
				return fmt.Errorf("%s layout: pencils of ranks %d and %d overlap", l.Kind, a, b)
			}
		}
	}
	return nil
}
