package protocol

import "github.com/google/btree"

type heldSegment struct {
	seq     uint32
	payload []byte
}

// ReorderBuffer holds out-of-order received segments until the gap before
// them closes. Bounded; overflow is dropped and repaired by retransmission.
type ReorderBuffer struct {
	tree     *btree.BTreeG[*heldSegment]
	bytes    int
	capacity int
}

func NewReorderBuffer(capacity int) *ReorderBuffer {
	return &ReorderBuffer{
		tree: btree.NewG(8, func(a, b *heldSegment) bool {
			return seqLT(a.seq, b.seq)
		}),
		capacity: capacity,
	}
}

// Insert buffers an out-of-order segment. It reports false for duplicates
// and for segments rejected by the capacity bound.
func (rb *ReorderBuffer) Insert(seq uint32, payload []byte) bool {
	if _, ok := rb.tree.Get(&heldSegment{seq: seq}); ok {
		return false
	}
	if rb.tree.Len() >= rb.capacity {
		return false
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	rb.tree.ReplaceOrInsert(&heldSegment{seq: seq, payload: p})
	rb.bytes += len(p)
	return true
}

// Contains reports whether a segment at seq is already buffered.
func (rb *ReorderBuffer) Contains(seq uint32) bool {
	_, ok := rb.tree.Get(&heldSegment{seq: seq})
	return ok
}

// Pop removes and returns the segment at exactly next, if buffered. The
// receiver calls it repeatedly to drain the run made contiguous by an
// in-order arrival.
func (rb *ReorderBuffer) Pop(next uint32) ([]byte, bool) {
	seg, ok := rb.tree.Get(&heldSegment{seq: next})
	if !ok {
		return nil, false
	}
	rb.tree.Delete(seg)
	rb.bytes -= len(seg.payload)
	return seg.payload, true
}

// FirstBlock returns the lowest contiguous buffered range, advertised to the
// sender as the SACK block.
func (rb *ReorderBuffer) FirstBlock() (SackBlock, bool) {
	var blk SackBlock
	found := false
	rb.tree.Ascend(func(seg *heldSegment) bool {
		end := seg.seq + uint32(len(seg.payload))
		if !found {
			blk = SackBlock{Start: seg.seq, End: end}
			found = true
			return true
		}
		if seg.seq != blk.End {
			return false
		}
		blk.End = end
		return true
	})
	return blk, found
}

func (rb *ReorderBuffer) Len() int { return rb.tree.Len() }

func (rb *ReorderBuffer) Bytes() int { return rb.bytes }
