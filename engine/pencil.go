package engine

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/comm"
	"github.com/notargets/PencilBench/field"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/timing"
	"github.com/notargets/PencilBench/utils"
	"gonum.org/v1/gonum/dsp/fourier"
	"time"
)

// PencilEngine is a reference Engine. Forward performs a real transform along
// x on the X-pencil, a row transpose to the Y-pencil, a complex transform
// along y, a column transpose to the Z-pencil and a complex transform along z.
// Backward runs the same pipeline in reverse. Rank r sits at process grid
// position (r mod Dims0, r div Dims0); rows exchange among the Dims0 ranks
// sharing a z block, columns among the Dims1 ranks sharing an x block.
type PencilEngine[T field.Float] struct {
	grid    partitions.GlobalGrid
	procs   partitions.ProcessGrid
	inPlace bool

	row, col comm.Communicator

	xp, yp, zp partitions.Pencil // real-space, intermediate, transform-space

	rowPlan, colPlan *utils.ExchangePlan // forward direction
	rowBack, colBack *utils.ExchangePlan // backward direction

	fx     *fourier.FFT
	fy, fz *fourier.CmplxFFT

	xbuf, ybuf, zbuf []complex128
	rline            []float64
	cline, cout      []complex128

	single bool // round stage buffers to complex64

	timers timing.Timers
	ready  bool
}

// NewPencilEngine returns an uninitialized reference engine
func NewPencilEngine[T field.Float]() *PencilEngine[T] {
	return &PencilEngine[T]{}
}

// Init implements Engine
func (e *PencilEngine[T]) Init(ctx context.Context, c comm.Communicator, pg partitions.ProcessGrid,
	g partitions.GlobalGrid, opts Options) ([3]int, error) {
	var memsize [3]int

	if err := g.Validate(); err != nil {
		return memsize, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	if err := pg.Validate(c.Size()); err != nil {
		return memsize, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	if opts.Storage != (partitions.GlobalGrid{}) && opts.Storage != g {
		return memsize, fmt.Errorf("%w: padded storage %v differs from grid %v", ErrEngine, opts.Storage, g)
	}

	e.grid, e.procs, e.inPlace = g, pg, opts.InPlace
	i, j := pg.Coords(c.Rank())

	var err error
	if e.row, err = c.Split(pg.RowRanks(j)); err != nil {
		return memsize, fmt.Errorf("%w: row communicator: %v", ErrEngine, err)
	}
	if e.col, err = c.Split(pg.ColumnRanks(i)); err != nil {
		return memsize, fmt.Errorf("%w: column communicator: %v", ErrEngine, err)
	}

	e.xp = partitions.PencilFor(g, pg, partitions.RealSpace, c.Rank())
	e.yp = partitions.PencilFor(g, pg, partitions.Intermediate, c.Rank())
	e.zp = partitions.PencilFor(g, pg, partitions.TransformSpace, c.Rank())

	if e.rowPlan, err = buildRowPlan(g, pg, e.xp, e.yp); err != nil {
		return memsize, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	if e.colPlan, err = buildColumnPlan(g, pg, e.yp, e.zp); err != nil {
		return memsize, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	e.rowBack = e.rowPlan.Reverse()
	e.colBack = e.colPlan.Reverse()

	nxh := g.ComplexNx()
	e.fx = fourier.NewFFT(g.Nx)
	e.fy = fourier.NewCmplxFFT(g.Ny)
	e.fz = fourier.NewCmplxFFT(g.Nz)

	e.xbuf = make([]complex128, nxh*e.xp.Size[1]*e.xp.Size[2])
	e.ybuf = make([]complex128, e.yp.Count())
	e.zbuf = make([]complex128, e.zp.Count())
	e.rline = make([]float64, g.Nx)
	longest := max(nxh, g.Ny, g.Nz)
	e.cline = make([]complex128, longest)
	e.cout = make([]complex128, longest)

	e.single = field.PrecisionOf[T]() == field.Single
	e.timers.Reset()
	e.ready = true

	if e.xp.Count() >= 2*e.zp.Count() {
		memsize = e.xp.Size
	} else {
		memsize = [3]int{2 * e.zp.Size[0], e.zp.Size[1], e.zp.Size[2]}
	}
	return memsize, nil
}

// LocalLayout implements Engine
func (e *PencilEngine[T]) LocalLayout(kind partitions.LayoutKind) (partitions.Pencil, error) {
	if !e.ready {
		return partitions.Pencil{}, fmt.Errorf("%w: layout requested before Init", ErrEngine)
	}
	switch kind {
	case partitions.RealSpace:
		return e.xp, nil
	case partitions.TransformSpace:
		return e.zp, nil
	case partitions.Intermediate:
		return e.yp, nil
	default:
		return partitions.Pencil{}, fmt.Errorf("%w: %v", ErrLayout, kind)
	}
}

// ResetStageTimers implements Engine
func (e *PencilEngine[T]) ResetStageTimers() { e.timers.Reset() }

// StageTimers implements Engine
func (e *PencilEngine[T]) StageTimers() timing.Profile { return e.timers.Profile() }

func (e *PencilEngine[T]) checkBuffers(realBuf, specBuf []T) error {
	if !e.ready {
		return fmt.Errorf("%w: transform called before Init", ErrEngine)
	}
	if len(realBuf) < e.xp.Count() {
		return fmt.Errorf("%w: real-space buffer holds %d samples, pencil needs %d",
			ErrEngine, len(realBuf), e.xp.Count())
	}
	if len(specBuf) < 2*e.zp.Count() {
		return fmt.Errorf("%w: transform-space buffer holds %d values, pencil needs %d",
			ErrEngine, len(specBuf), 2*e.zp.Count())
	}
	if !e.inPlace && len(realBuf) > 0 && len(specBuf) > 0 && &realBuf[0] == &specBuf[0] {
		return fmt.Errorf("%w: in-place call on an engine initialized out-of-place", ErrEngine)
	}
	return nil
}

// Forward implements Engine
func (e *PencilEngine[T]) Forward(ctx context.Context, src, dst []T, op string) error {
	ops, err := axisOps(op)
	if err != nil {
		return err
	}
	if !ops[0] {
		return fmt.Errorf("%w: forward tag %q cannot skip the real transform along x", ErrEngine, op)
	}
	if err := e.checkBuffers(src, dst); err != nil {
		return err
	}

	start := time.Now()
	e.realToComplex(src)
	e.timers.Track(timing.ForwardR2C, start)

	start = time.Now()
	if err := exchange(ctx, e.row, e.rowPlan, e.xbuf, e.ybuf); err != nil {
		return err
	}
	e.timers.Track(timing.ForwardExchangeXY, start)

	if ops[1] {
		start = time.Now()
		e.transformY(false)
		e.timers.Track(timing.ForwardC2CY, start)
	}

	start = time.Now()
	if err := exchange(ctx, e.col, e.colPlan, e.ybuf, e.zbuf); err != nil {
		return err
	}
	e.timers.Track(timing.ForwardExchangeYZ, start)

	if ops[2] {
		start = time.Now()
		e.transformZ(false)
		e.timers.Track(timing.ForwardC2CZ, start)
	}

	for k, v := range e.zbuf {
		dst[2*k] = T(real(v))
		dst[2*k+1] = T(imag(v))
	}
	return nil
}

// Backward implements Engine
func (e *PencilEngine[T]) Backward(ctx context.Context, src, dst []T, op string) error {
	ops, err := axisOps(op)
	if err != nil {
		return err
	}
	if !ops[2] {
		return fmt.Errorf("%w: backward tag %q cannot skip the real transform along x", ErrEngine, op)
	}
	if err := e.checkBuffers(dst, src); err != nil {
		return err
	}

	for k := range e.zbuf {
		e.zbuf[k] = complex(float64(src[2*k]), float64(src[2*k+1]))
	}

	if ops[0] {
		start := time.Now()
		e.transformZ(true)
		e.timers.Track(timing.BackwardC2CZ, start)
	}

	start := time.Now()
	if err := exchange(ctx, e.col, e.colBack, e.zbuf, e.ybuf); err != nil {
		return err
	}
	e.timers.Track(timing.BackwardExchangeZY, start)

	if ops[1] {
		start = time.Now()
		e.transformY(true)
		e.timers.Track(timing.BackwardC2CY, start)
	}

	start = time.Now()
	if err := exchange(ctx, e.row, e.rowBack, e.ybuf, e.xbuf); err != nil {
		return err
	}
	e.timers.Track(timing.BackwardExchangeYX, start)

	start = time.Now()
	e.complexToReal(dst)
	e.timers.Track(timing.BackwardC2R, start)
	return nil
}

// exchange moves src to dst through plan over communicator c
func exchange(ctx context.Context, c comm.Communicator, plan *utils.ExchangePlan, src, dst []complex128) error {
	blocks, err := utils.Gather(plan, src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngine, err)
	}
	recv, err := comm.Alltoallv(ctx, c, blocks)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
	if err := utils.Scatter(plan, dst, recv); err != nil {
		return fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return nil
}

// realToComplex transforms every x line of the real-space pencil into xbuf
func (e *PencilEngine[T]) realToComplex(src []T) {
	nx, nxh := e.grid.Nx, e.grid.ComplexNx()
	lines := e.xp.Size[1] * e.xp.Size[2]
	for l := 0; l < lines; l++ {
		in := src[l*nx : (l+1)*nx]
		for x, v := range in {
			e.rline[x] = float64(v)
		}
		e.narrow(e.fx.Coefficients(e.xbuf[l*nxh:(l+1)*nxh], e.rline))
	}
}

// complexToReal transforms every x line of xbuf back into the real-space pencil
func (e *PencilEngine[T]) complexToReal(dst []T) {
	nx, nxh := e.grid.Nx, e.grid.ComplexNx()
	lines := e.xp.Size[1] * e.xp.Size[2]
	coeff := e.cline[:nxh]
	for l := 0; l < lines; l++ {
		copy(coeff, e.xbuf[l*nxh:(l+1)*nxh])
		e.fx.Sequence(e.rline, coeff)
		out := dst[l*nx : (l+1)*nx]
		for x, v := range e.rline {
			out[x] = T(v)
		}
	}
}

// transformY runs the complex transform along y of the Y-pencil
func (e *PencilEngine[T]) transformY(inverse bool) {
	mx, ny, nz := e.yp.Size[0], e.yp.Size[1], e.yp.Size[2]
	stride := mx
	for z := 0; z < nz; z++ {
		for x := 0; x < mx; x++ {
			base := x + mx*ny*z
			e.strided(e.fy, e.ybuf, base, stride, ny, inverse)
		}
	}
}

// transformZ runs the complex transform along z of the Z-pencil
func (e *PencilEngine[T]) transformZ(inverse bool) {
	mx, my, nz := e.zp.Size[0], e.zp.Size[1], e.zp.Size[2]
	stride := mx * my
	for y := 0; y < my; y++ {
		for x := 0; x < mx; x++ {
			base := x + mx*y
			e.strided(e.fz, e.zbuf, base, stride, nz, inverse)
		}
	}
}

// strided transforms the n values buf[base], buf[base+stride], ... in place
func (e *PencilEngine[T]) strided(f *fourier.CmplxFFT, buf []complex128, base, stride, n int, inverse bool) {
	in, out := e.cline[:n], e.cout[:n]
	for k := 0; k < n; k++ {
		in[k] = buf[base+k*stride]
	}
	if inverse {
		f.Sequence(out, in)
	} else {
		f.Coefficients(out, in)
	}
	e.narrow(out)
	for k := 0; k < n; k++ {
		buf[base+k*stride] = out[k]
	}
}

// narrow rounds buf to the sample precision. Single precision engines keep
// every stage result at complex64 accuracy even though the transforms run
// in complex128.
func (e *PencilEngine[T]) narrow(buf []complex128) {
	if !e.single {
		return
	}
	for i, v := range buf {
		buf[i] = complex128(complex64(v))
	}
}
