package comm

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/sync/errgroup"
)

// RankFunc is the program every rank executes
type RankFunc func(ctx context.Context, c Communicator) error

// Run starts size ranks of an in-process World, each executing fn, and waits
// for all of them. The first failing rank cancels the context shared by the
// others so none stays blocked in a collective. The returned error prefers a
// rank's own failure over the peer-failure and cancellation errors it caused
// on the remaining ranks.
func Run(ctx context.Context, size int, fn RankFunc) error {
	if size <= 0 {
		return fmt.Errorf("%w: world size %d", ErrRank, size)
	}
	w := NewWorld(size)
	errs := make([]error, size)

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c, err := w.Comm(rank)
		if err != nil {
			return err
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("rank %d panicked: %v", rank, r)
				}
				errs[rank] = err
			}()
			return fn(gctx, c)
		})
	}
	first := g.Wait()
	if first == nil {
		return nil
	}

	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrPeerFailed) && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return first
}
