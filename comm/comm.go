// Package comm provides the collective communication the harness needs
// between a fixed set of cooperating ranks. Each rank executes the same
// control flow; all calls block until the matching calls on the peer ranks
// arrive or the context is cancelled.
//
// The World implementation runs every rank as a goroutine of one process and
// moves messages through per-pair buffered channels. Messages are passed by
// reference, so senders must not modify a slice after sending it.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Root is the designated reporting rank
const Root = 0

// mailboxDepth bounds how many messages one rank may post to another before
// the receiver drains them
const mailboxDepth = 64

var (
	// ErrPeerFailed is returned by AllOK on ranks whose own step succeeded
	// while another rank's failed
	ErrPeerFailed = errors.New("comm: a peer rank failed")
	// ErrRank is returned for ranks outside the communicator
	ErrRank = errors.New("comm: rank out of range")
)

// Communicator is one rank's endpoint in a group of ranks
type Communicator interface {
	// Rank returns this endpoint's rank within the group, 0 <= Rank < Size
	Rank() int
	// Size returns the number of ranks in the group
	Size() int
	// Send posts msg to rank dst of this group
	Send(ctx context.Context, dst int, msg any) error
	// Recv takes the next message posted by rank src of this group
	Recv(ctx context.Context, src int) (any, error)
	// Split returns the communicator of the sub-group made of the listed
	// ranks of this group, in order. Every listed rank must call Split with
	// the same list; the caller must be a member.
	Split(ranks []int) (Communicator, error)
}

// World is an in-process group of ranks
type World struct {
	size int

	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	members []int        // world ranks, indexed by group rank
	boxes   [][]chan any // boxes[src][dst]
}

// NewWorld creates a world of size ranks
func NewWorld(size int) *World {
	return &World{
		size:   size,
		groups: make(map[string]*group),
	}
}

// Size returns the number of ranks in the world
func (w *World) Size() int {
	return w.size
}

// Comm returns the world communicator endpoint of rank
func (w *World) Comm(rank int) (Communicator, error) {
	if rank < 0 || rank >= w.size {
		return nil, fmt.Errorf("%w: %d of %d", ErrRank, rank, w.size)
	}
	members := make([]int, w.size)
	for r := range members {
		members[r] = r
	}
	return &endpoint{world: w, grp: w.group(members), rank: rank}, nil
}

// group returns the shared state of the group with the given members,
// creating it on first use
func (w *World) group(members []int) *group {
	key := fmt.Sprint(members)

	w.mu.Lock()
	defer w.mu.Unlock()

	if g, ok := w.groups[key]; ok {
		return g
	}
	n := len(members)
	g := &group{
		members: append([]int(nil), members...),
		boxes:   make([][]chan any, n),
	}
	for src := range g.boxes {
		g.boxes[src] = make([]chan any, n)
		for dst := range g.boxes[src] {
			g.boxes[src][dst] = make(chan any, mailboxDepth)
		}
	}
	w.groups[key] = g
	return g
}

type endpoint struct {
	world *World
	grp   *group
	rank  int
}

func (e *endpoint) Rank() int { return e.rank }

func (e *endpoint) Size() int { return len(e.grp.members) }

func (e *endpoint) Send(ctx context.Context, dst int, msg any) error {
	if dst < 0 || dst >= e.Size() {
		return fmt.Errorf("%w: send to %d of %d", ErrRank, dst, e.Size())
	}
	box := e.grp.boxes[e.rank][dst]
	// a ready mailbox wins over a cancelled context
	select {
	case box <- msg:
		return nil
	default:
	}
	select {
	case box <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *endpoint) Recv(ctx context.Context, src int) (any, error) {
	if src < 0 || src >= e.Size() {
		return nil, fmt.Errorf("%w: receive from %d of %d", ErrRank, src, e.Size())
	}
	box := e.grp.boxes[src][e.rank]
	select {
	case msg := <-box:
		return msg, nil
	default:
	}
	select {
	case msg := <-box:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Split(ranks []int) (Communicator, error) {
	members := make([]int, len(ranks))
	self := -1
	for i, r := range ranks {
		if r < 0 || r >= e.Size() {
			return nil, fmt.Errorf("%w: split member %d of %d", ErrRank, r, e.Size())
		}
		members[i] = e.grp.members[r]
		if r == e.rank {
			self = i
		}
	}
	if self < 0 {
		return nil, fmt.Errorf("comm: rank %d is not a member of split %v", e.rank, ranks)
	}
	return &endpoint{world: e.world, grp: e.world.group(members), rank: self}, nil
}
