package protocol

import (
	"time"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// ErrConnectionLost reports that the session died: either a segment exhausted
// its retransmission budget or the flow stalled past the idle bound.
var ErrConnectionLost = errors.New("connection lost")

// OutstandingSegment is one transmitted, not yet acknowledged segment.
type OutstandingSegment struct {
	Seq             uint32
	Payload         []byte
	FirstSentAt     time.Time
	LastSentAt      time.Time
	RetransmitCount int
	Sacked          bool
}

// RetransmissionBuffer holds in-flight segments ordered by sequence number.
// Not safe for concurrent use; the sender event loop is the sole caller.
type RetransmissionBuffer struct {
	tree           *btree.BTreeG[*OutstandingSegment]
	bytes          int
	maxRetransmits int
}

func NewRetransmissionBuffer(maxRetransmits int) *RetransmissionBuffer {
	return &RetransmissionBuffer{
		tree: btree.NewG(8, func(a, b *OutstandingSegment) bool {
			return seqLT(a.Seq, b.Seq)
		}),
		maxRetransmits: maxRetransmits,
	}
}

// Insert registers a segment on its first transmission. At most one live
// entry exists per sequence number.
func (rb *RetransmissionBuffer) Insert(seq uint32, payload []byte, now time.Time) {
	seg := &OutstandingSegment{Seq: seq, Payload: payload, FirstSentAt: now, LastSentAt: now}
	if prev, ok := rb.tree.ReplaceOrInsert(seg); ok {
		rb.bytes -= len(prev.Payload)
	}
	rb.bytes += len(payload)
}

// AckCumulative releases every segment fully covered by ackNum. It returns
// the released byte count and one round-trip sample per segment that was
// never retransmitted; samples from retransmissions are ambiguous and
// dropped (Karn's rule).
func (rb *RetransmissionBuffer) AckCumulative(ackNum uint32, now time.Time) (int, []time.Duration) {
	var acked []*OutstandingSegment
	rb.tree.Ascend(func(seg *OutstandingSegment) bool {
		if end := seg.Seq + uint32(len(seg.Payload)); seqLEQ(end, ackNum) {
			acked = append(acked, seg)
			return true
		}
		return false
	})

	released := 0
	var samples []time.Duration
	for _, seg := range acked {
		rb.tree.Delete(seg)
		rb.bytes -= len(seg.Payload)
		released += len(seg.Payload)
		if seg.RetransmitCount == 0 {
			samples = append(samples, now.Sub(seg.FirstSentAt))
		}
	}
	return released, samples
}

// MarkSacked flags segments wholly inside the advertised block so the
// timeout scan and fast retransmit leave them to cumulative ACKs.
func (rb *RetransmissionBuffer) MarkSacked(block SackBlock) {
	rb.tree.AscendGreaterOrEqual(&OutstandingSegment{Seq: block.Start}, func(seg *OutstandingSegment) bool {
		if end := seg.Seq + uint32(len(seg.Payload)); !seqLEQ(end, block.End) {
			return false
		}
		seg.Sacked = true
		return true
	})
}

// ExpiredSegment returns the lowest-sequence unsacked segment whose deadline
// has passed, or nil. Callers retransmit at most one segment per scan pass to
// avoid retransmission bursts.
func (rb *RetransmissionBuffer) ExpiredSegment(now time.Time, rto time.Duration) *OutstandingSegment {
	var expired *OutstandingSegment
	rb.tree.Ascend(func(seg *OutstandingSegment) bool {
		if seg.Sacked {
			return true
		}
		if !seg.LastSentAt.Add(rto).After(now) {
			expired = seg
			return false
		}
		return true
	})
	return expired
}

// MarkRetransmitted refreshes bookkeeping after a resend and enforces the
// retry bound.
func (rb *RetransmissionBuffer) MarkRetransmitted(seq uint32, now time.Time) error {
	seg, ok := rb.tree.Get(&OutstandingSegment{Seq: seq})
	if !ok {
		return nil
	}
	seg.LastSentAt = now
	seg.RetransmitCount++
	if seg.RetransmitCount > rb.maxRetransmits {
		return errors.Wrapf(ErrConnectionLost, "segment %d retransmitted %d times", seq, seg.RetransmitCount)
	}
	return nil
}

// Get returns the live entry for seq, if any.
func (rb *RetransmissionBuffer) Get(seq uint32) (*OutstandingSegment, bool) {
	return rb.tree.Get(&OutstandingSegment{Seq: seq})
}

func (rb *RetransmissionBuffer) Len() int { return rb.tree.Len() }

// OutstandingBytes is the total payload in flight, gated by the window.
func (rb *RetransmissionBuffer) OutstandingBytes() int { return rb.bytes }

// OldestSeq returns the lowest unacknowledged sequence number.
func (rb *RetransmissionBuffer) OldestSeq() (uint32, bool) {
	seg, ok := rb.tree.Min()
	if !ok {
		return 0, false
	}
	return seg.Seq, true
}
