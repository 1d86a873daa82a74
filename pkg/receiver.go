package protocol

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// finalAckBurst is how many times the terminal ACK is repeated. It cannot
// itself be acknowledged, so repetition stands in for reliability.
const finalAckBurst = 3

// Receiver drives the receiving side of one transfer session: it requests
// the file, reorders segments, writes the in-order byte stream to the sink,
// and answers every segment with a cumulative ACK. Single-goroutine.
type Receiver struct {
	cfg  Config
	ch   DatagramChannel
	sink ByteSink
	log  zerolog.Logger

	next     uint32 // next expected byte offset
	buf      *ReorderBuffer
	finished bool

	stats TransferStats
}

func NewReceiver(ch DatagramChannel, sink ByteSink, cfg Config, log zerolog.Logger) *Receiver {
	return &Receiver{
		cfg:  cfg,
		ch:   ch,
		sink: sink,
		log:  log,
		buf:  NewReorderBuffer(cfg.ReorderCapacity),
	}
}

// Stats returns the session counters accumulated so far.
func (r *Receiver) Stats() TransferStats { return r.stats }

// Run requests the transfer and receives until the terminal marker lands at
// the expected offset. On failure the partial output is left in place.
func (r *Receiver) Run(ctx context.Context) error {
	r.stats.Started = time.Now()
	defer r.logSummary()

	first, err := RequestTransfer(r.ch, r.cfg.HandshakeAttempts, r.cfg.HandshakeTimeout, r.log)
	if err != nil {
		return err
	}
	done, err := r.handleDatagram(first)
	if err != nil {
		return err
	}
	if done {
		r.stats.Finished = time.Now()
		return nil
	}

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := r.ch.Receive(r.cfg.PollInterval)
		if errors.Is(err, ErrNoDatagram) {
			if time.Since(lastActivity) > r.cfg.IdleTimeout {
				return errors.Wrap(ErrConnectionLost, "transfer stalled")
			}
			continue
		}
		if err != nil {
			return err
		}
		lastActivity = time.Now()

		done, err := r.handleDatagram(buf)
		if err != nil {
			return err
		}
		if done {
			r.stats.Finished = time.Now()
			return nil
		}
	}
}

func (r *Receiver) handleDatagram(buf []byte) (bool, error) {
	seg, err := DecodeSegment(buf)
	if err != nil {
		r.log.Debug().Err(err).Msg("discarding malformed datagram")
		return false, nil
	}
	return r.handleSegment(seg)
}

// handleSegment delivers, buffers, or discards one data segment, and always
// answers with the current cumulative ACK. Re-sending the same ACK for
// duplicate and out-of-order segments is what drives the sender's
// duplicate-ACK counting.
func (r *Receiver) handleSegment(seg *Segment) (bool, error) {
	if r.finished {
		// late duplicates after completion are a no-op
		return true, nil
	}
	r.stats.PacketsReceived++

	switch {
	case seg.Seq == r.next && seg.IsTerminal():
		return true, r.finish(seg)

	case seg.Seq == r.next:
		if err := r.deliver(seg.Payload); err != nil {
			return false, err
		}
		for {
			payload, ok := r.buf.Pop(r.next)
			if !ok {
				break
			}
			if bytes.Equal(payload, TerminalMarker) {
				return true, r.finish(seg)
			}
			if err := r.deliver(payload); err != nil {
				return false, err
			}
		}
		r.ack(seg)

	case seqLT(r.next, seg.Seq):
		switch {
		case r.buf.Insert(seg.Seq, seg.Payload):
			r.stats.OutOfOrderBuffered++
		case r.buf.Contains(seg.Seq):
			r.stats.DuplicatesDiscarded++
		default:
			// rejected by the capacity bound; retransmission repairs it
			r.stats.ReorderOverflowDropped++
		}
		r.ack(seg)

	default:
		// already delivered; the ACK for it may have been lost
		r.stats.DuplicatesDiscarded++
		r.ack(seg)
	}
	return false, nil
}

func (r *Receiver) deliver(payload []byte) error {
	if _, err := r.sink.Write(payload); err != nil {
		return errors.Wrap(err, "write to sink")
	}
	r.next += uint32(len(payload))
	r.stats.BytesTransferred += int64(len(payload))
	return nil
}

// ack answers with the next expected offset, the lowest out-of-order block
// as the SACK advertisement, and the triggering segment's timestamp echo.
func (r *Receiver) ack(trigger *Segment) {
	ackSeg := &Segment{Seq: r.next}
	if trigger.HasTimestamp {
		ackSeg.Timestamp = trigger.Timestamp
		ackSeg.HasTimestamp = true
	}
	if blk, ok := r.buf.FirstBlock(); ok {
		ackSeg.Sack = blk
		ackSeg.HasSack = true
	}
	r.send(ackSeg)
}

// finish acknowledges the terminal marker and finalizes storage.
func (r *Receiver) finish(trigger *Segment) error {
	r.finished = true
	r.next += uint32(len(TerminalMarker))
	final := &Segment{Seq: r.next}
	if trigger.HasTimestamp {
		final.Timestamp = trigger.Timestamp
		final.HasTimestamp = true
	}
	for i := 0; i < finalAckBurst; i++ {
		r.send(final)
	}
	r.log.Info().
		Uint32("final_ack", r.next).
		Int64("bytes", r.stats.BytesTransferred).
		Msg("terminal marker received")
	return errors.Wrap(r.sink.Close(), "finalize sink")
}

func (r *Receiver) send(seg *Segment) {
	buf, err := EncodeSegment(seg)
	if err != nil {
		return
	}
	if err := r.ch.Send(buf); err != nil {
		r.log.Debug().Err(err).Msg("ack send failed")
	}
}

func (r *Receiver) logSummary() {
	r.log.Info().
		Int("packets_received", r.stats.PacketsReceived).
		Int("duplicates", r.stats.DuplicatesDiscarded).
		Int("out_of_order", r.stats.OutOfOrderBuffered).
		Int64("bytes", r.stats.BytesTransferred).
		Dur("elapsed", r.stats.Elapsed()).
		Msg("receiver session finished")
}
