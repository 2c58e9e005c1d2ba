package comm

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"sync/atomic"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBarrierAligns(t *testing.T) {
	const size = 6
	var entered atomic.Int32

	err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
		// late ranks make early ranks wait in the barrier
		time.Sleep(time.Duration(c.Rank()) * time.Millisecond)
		entered.Add(1)
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		if n := entered.Load(); n != size {
			return errors.New("left barrier before all ranks entered")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBcast(t *testing.T) {
	type params struct{ Nx, Ny int }
	got := make([]params, 4)

	err := Run(context.Background(), 4, func(ctx context.Context, c Communicator) error {
		var v params
		if c.Rank() == 2 {
			v = params{Nx: 64, Ny: 32}
		}
		v, err := Bcast(ctx, c, 2, v)
		got[c.Rank()] = v
		return err
	})
	require.NoError(t, err)
	for r, v := range got {
		assert.Equal(t, params{64, 32}, v, "rank %d", r)
	}
}

func TestReduceOps(t *testing.T) {
	const size = 5
	results := make([][]float64, size)

	err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
		r := float64(c.Rank())
		maxv := []float64{r, -r, 2}
		if err := AllreduceMax(ctx, c, maxv); err != nil {
			return err
		}
		minv := []float64{r}
		if err := Reduce(ctx, c, Root, OpMin, minv); err != nil {
			return err
		}
		sum := []float64{r}
		if err := Reduce(ctx, c, Root, OpSum, sum); err != nil {
			return err
		}
		results[c.Rank()] = append(maxv, minv[0], sum[0])
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{4, 0, 2, 0, 10}, results[Root])
	for r := 1; r < size; r++ {
		// allreduce result everywhere, reduce only on root
		assert.Equal(t, []float64{4, 0, 2}, results[r][:3])
		assert.Equal(t, float64(r), results[r][3])
	}
}

func TestReduceLengthMismatch(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		vals := make([]float64, 1+c.Rank())
		return ReduceMax(ctx, c, Root, vals)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sent 2 values")
}

func TestAlltoallv(t *testing.T) {
	const size = 4
	err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
		send := make([][]int, size)
		for dst := range send {
			// rank r sends dst+1 copies of 10*r+dst
			for k := 0; k <= dst; k++ {
				send[dst] = append(send[dst], 10*c.Rank()+dst)
			}
		}
		recv, err := Alltoallv(ctx, c, send)
		if err != nil {
			return err
		}
		for src, block := range recv {
			if len(block) != c.Rank()+1 {
				return errors.New("wrong block length")
			}
			for _, v := range block {
				if v != 10*src+c.Rank() {
					return errors.New("wrong block content")
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSplit(t *testing.T) {
	// 2 x 3 grid: rows share j, columns share i
	const dims0, dims1 = 2, 3
	sums := make([][2]float64, dims0*dims1)

	err := Run(context.Background(), dims0*dims1, func(ctx context.Context, c Communicator) error {
		i, j := c.Rank()%dims0, c.Rank()/dims0
		row := []int{j * dims0, 1 + j*dims0}
		col := []int{i, i + dims0, i + 2*dims0}

		rc, err := c.Split(row)
		if err != nil {
			return err
		}
		cc, err := c.Split(col)
		if err != nil {
			return err
		}
		if rc.Rank() != i || cc.Rank() != j {
			return errors.New("sub-communicator rank does not match grid coordinate")
		}

		rs := []float64{float64(c.Rank())}
		if err := Allreduce(ctx, rc, OpSum, rs); err != nil {
			return err
		}
		cs := []float64{float64(c.Rank())}
		if err := Allreduce(ctx, cc, OpSum, cs); err != nil {
			return err
		}
		sums[c.Rank()] = [2]float64{rs[0], cs[0]}
		return nil
	})
	require.NoError(t, err)

	// rank 3 is (i=1, j=1): row {2,3}, column {1,3,5}
	assert.Equal(t, [2]float64{5, 9}, sums[3])
	// rank 4 is (i=0, j=2): row {4,5}, column {0,2,4}
	assert.Equal(t, [2]float64{9, 6}, sums[4])
}

func TestSplitNonMember(t *testing.T) {
	w := NewWorld(3)
	c, err := w.Comm(0)
	require.NoError(t, err)
	_, err = c.Split([]int{1, 2})
	assert.Error(t, err)
	_, err = c.Split([]int{0, 7})
	assert.ErrorIs(t, err, ErrRank)
}

func TestAllOKAgreesOnFailure(t *testing.T) {
	boom := errors.New("allocation failed")
	got := make([]error, 4)

	err := Run(context.Background(), 4, func(ctx context.Context, c Communicator) error {
		var local error
		if c.Rank() == 2 {
			local = boom
		}
		got[c.Rank()] = AllOK(ctx, c, local)
		return got[c.Rank()]
	})

	// the originating failure wins over the peer-failure errors it caused
	require.ErrorIs(t, err, boom)
	for r, e := range got {
		if r == 2 {
			assert.ErrorIs(t, e, boom)
		} else {
			assert.ErrorIs(t, e, ErrPeerFailed)
		}
	}
}

func TestRunCancelsBlockedRanks(t *testing.T) {
	boom := errors.New("engine failure")
	done := make(chan error, 1)

	go func() {
		done <- Run(context.Background(), 3, func(ctx context.Context, c Communicator) error {
			if c.Rank() == 1 {
				return boom
			}
			// rank 1 never arrives; cancellation must release the others
			return Barrier(ctx, c)
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("ranks deadlocked after a peer failed")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			var s []float64
			_ = s[3]
		}
		return Barrier(ctx, c)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 0 panicked")
}
