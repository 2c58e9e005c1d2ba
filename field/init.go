package field

import (
	"github.com/notargets/PencilBench/partitions"
	"gonum.org/v1/gonum/stat/distuv"
	"math"
	"math/rand/v2"
)

// Walk visits every sample of a pencil in buffer order (z outer, x inner),
// passing the local buffer index and the global coordinates. It is the only
// local-to-global mapping; initialization and verification both go through it.
func Walk(p partitions.Pencil, fn func(i int, g [3]int)) {
	i := 0
	for z := 0; z < p.Size[2]; z++ {
		for y := 0; y < p.Size[1]; y++ {
			for x := 0; x < p.Size[0]; x++ {
				fn(i, [3]int{p.Start[0] + x, p.Start[1] + y, p.Start[2] + z})
				i++
			}
		}
	}
}

// Fill initializes the field. Random mode draws from a PCG stream seeded by
// (seed, rank) and keeps a copy of the result as the verification reference.
func (f *Field[T]) Fill(seed uint64, rank int) {
	switch f.Mode {
	case Random:
		u := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(seed, uint64(rank))}
		Walk(f.Pencil, func(i int, _ [3]int) {
			f.Data[i] = T(u.Rand())
		})
		f.reference = append(f.reference[:0], f.Data...)
	case Sine:
		f.buildSines()
		Walk(f.Pencil, func(i int, g [3]int) {
			f.Data[i] = T(f.sine(g))
		})
	}
}

func (f *Field[T]) buildSines() {
	n := [3]int{f.Grid.Nx, f.Grid.Ny, f.Grid.Nz}
	for d := 0; d < 3; d++ {
		tab := make([]float64, f.Pencil.Size[d])
		for k := range tab {
			tab[k] = math.Sin(2 * math.Pi * float64(f.Pencil.Start[d]+k) / float64(n[d]))
		}
		f.sines[d] = tab
	}
}

func (f *Field[T]) sine(g [3]int) float64 {
	p := f.Pencil
	return f.sines[0][g[0]-p.Start[0]] * f.sines[1][g[1]-p.Start[1]] * f.sines[2][g[2]-p.Start[2]]
}

// Expected returns the value sample i at global coordinates g held after Fill
func (f *Field[T]) Expected(i int, g [3]int) float64 {
	if f.Mode == Random {
		return float64(f.reference[i])
	}
	return float64(T(f.sine(g)))
}
