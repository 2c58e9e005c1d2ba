package utils

import (
	"fmt"
)

// ExchangePlan manages pick and place indices for swapping pencil data with
// every peer of a sub-communicator. Values picked for a peer are sent in pick
// order; the peer stores them in the same order at its place indices.
type ExchangePlan struct {
	NumPeers int
	SrcLen   int // local source buffer length
	DstLen   int // local destination buffer length

	// Pick/Place indices per peer
	PickIndices  []PickBuffer  // [targetPeer]
	PlaceIndices []PlaceBuffer // [sourcePeer]
}

// PickBuffer contains indices for gathering values to send
type PickBuffer struct {
	Indices    []int // Local source buffer indices
	TargetPeer int
}

// PlaceBuffer contains indices for scattering received values
type PlaceBuffer struct {
	Indices    []int // Local destination buffer indices
	SourcePeer int
}

// NewExchangePlan creates an empty plan for numPeers peers
func NewExchangePlan(numPeers, srcLen, dstLen int) (*ExchangePlan, error) {
	if numPeers <= 0 || srcLen < 0 || dstLen < 0 {
		return nil, fmt.Errorf("invalid exchange plan dimensions: peers=%d, src=%d, dst=%d",
			numPeers, srcLen, dstLen)
	}
	ep := &ExchangePlan{
		NumPeers:     numPeers,
		SrcLen:       srcLen,
		DstLen:       dstLen,
		PickIndices:  make([]PickBuffer, numPeers),
		PlaceIndices: make([]PlaceBuffer, numPeers),
	}
	for q := 0; q < numPeers; q++ {
		ep.PickIndices[q] = PickBuffer{TargetPeer: q}
		ep.PlaceIndices[q] = PlaceBuffer{SourcePeer: q}
	}
	return ep, nil
}

// AddPick records that src[idx] is the next value sent to peer
func (ep *ExchangePlan) AddPick(peer, idx int) {
	ep.PickIndices[peer].Indices = append(ep.PickIndices[peer].Indices, idx)
}

// AddPlace records that the next value received from peer goes to dst[idx]
func (ep *ExchangePlan) AddPlace(peer, idx int) {
	ep.PlaceIndices[peer].Indices = append(ep.PlaceIndices[peer].Indices, idx)
}

// Reverse returns the plan for the opposite exchange: what was placed is now
// picked and what was picked is now placed
func (ep *ExchangePlan) Reverse() *ExchangePlan {
	rev := &ExchangePlan{
		NumPeers:     ep.NumPeers,
		SrcLen:       ep.DstLen,
		DstLen:       ep.SrcLen,
		PickIndices:  make([]PickBuffer, ep.NumPeers),
		PlaceIndices: make([]PlaceBuffer, ep.NumPeers),
	}
	for q := 0; q < ep.NumPeers; q++ {
		rev.PickIndices[q] = PickBuffer{Indices: ep.PlaceIndices[q].Indices, TargetPeer: q}
		rev.PlaceIndices[q] = PlaceBuffer{Indices: ep.PickIndices[q].Indices, SourcePeer: q}
	}
	return rev
}

// Verify checks index validity and that the plan is a permutation: every
// source value is picked exactly once and every destination slot is placed
// exactly once
func (ep *ExchangePlan) Verify() error {
	picked := make([]int, ep.SrcLen)
	for q, pb := range ep.PickIndices {
		for _, idx := range pb.Indices {
			if idx < 0 || idx >= ep.SrcLen {
				return fmt.Errorf("invalid pick index %d for peer %d (max %d)", idx, q, ep.SrcLen-1)
			}
			picked[idx]++
		}
	}
	for idx, n := range picked {
		if n != 1 {
			return fmt.Errorf("conservation error: source index %d picked %d times", idx, n)
		}
	}

	placed := make([]int, ep.DstLen)
	for q, pb := range ep.PlaceIndices {
		for _, idx := range pb.Indices {
			if idx < 0 || idx >= ep.DstLen {
				return fmt.Errorf("invalid place index %d for peer %d (max %d)", idx, q, ep.DstLen-1)
			}
			placed[idx]++
		}
	}
	for idx, n := range placed {
		if n != 1 {
			return fmt.Errorf("conservation error: destination index %d placed %d times", idx, n)
		}
	}
	return nil
}

// Gather packs src into one send block per peer
func Gather[T any](ep *ExchangePlan, src []T) ([][]T, error) {
	if len(src) < ep.SrcLen {
		return nil, fmt.Errorf("gather: source length %d < %d", len(src), ep.SrcLen)
	}
	blocks := make([][]T, ep.NumPeers)
	for q, pb := range ep.PickIndices {
		block := make([]T, len(pb.Indices))
		for k, idx := range pb.Indices {
			block[k] = src[idx]
		}
		blocks[q] = block
	}
	return blocks, nil
}

// Scatter unpacks the blocks received from every peer into dst
func Scatter[T any](ep *ExchangePlan, dst []T, recv [][]T) error {
	if len(dst) < ep.DstLen {
		return fmt.Errorf("scatter: destination length %d < %d", len(dst), ep.DstLen)
	}
	if len(recv) != ep.NumPeers {
		return fmt.Errorf("scatter: %d blocks for %d peers", len(recv), ep.NumPeers)
	}
	for q, pb := range ep.PlaceIndices {
		if len(recv[q]) != len(pb.Indices) {
			return fmt.Errorf("scatter: peer %d sent %d values, expected %d", q, len(recv[q]), len(pb.Indices))
		}
		for k, idx := range pb.Indices {
			dst[idx] = recv[q][k]
		}
	}
	return nil
}
