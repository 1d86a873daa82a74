package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// captureChannel records everything sent and never has anything to receive.
type captureChannel struct {
	sent [][]byte
}

func (c *captureChannel) Send(buf []byte) error {
	c.sent = append(c.sent, append([]byte(nil), buf...))
	return nil
}

func (c *captureChannel) Receive(time.Duration) ([]byte, error) {
	return nil, ErrNoDatagram
}

func (c *captureChannel) lastSegment(t *testing.T) *Segment {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	seg, err := DecodeSegment(c.sent[len(c.sent)-1])
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func newTestReceiver() (*Receiver, *captureChannel, *memSink) {
	ch := &captureChannel{}
	sink := &memSink{}
	return NewReceiver(ch, sink, DefaultConfig(), zerolog.Nop()), ch, sink
}

func dataSegment(seq uint32, payload []byte) *Segment {
	return &Segment{Seq: seq, Timestamp: 42, HasTimestamp: true, Payload: payload}
}

func TestReceiverInOrderDelivery(t *testing.T) {
	r, ch, sink := newTestReceiver()

	if done, err := r.handleSegment(dataSegment(0, bytes.Repeat([]byte{'a'}, MSS))); done || err != nil {
		t.Fatalf("handleSegment = (%v, %v)", done, err)
	}
	ack := ch.lastSegment(t)
	if ack.Seq != MSS {
		t.Errorf("ACK = %d, want %d", ack.Seq, MSS)
	}
	if !ack.HasTimestamp || ack.Timestamp != 42 {
		t.Error("ACK did not echo the segment timestamp")
	}
	if ack.HasSack {
		t.Error("ACK advertised a SACK block with nothing buffered")
	}

	if _, err := r.handleSegment(dataSegment(MSS, []byte("tail"))); err != nil {
		t.Fatal(err)
	}
	if got := ch.lastSegment(t).Seq; got != MSS+4 {
		t.Errorf("ACK = %d, want %d", got, MSS+4)
	}
	want := append(bytes.Repeat([]byte{'a'}, MSS), []byte("tail")...)
	if !bytes.Equal(sink.Bytes(), want) {
		t.Error("sink contents do not match the delivered stream")
	}
}

func TestReceiverOutOfOrderAdvertisesSack(t *testing.T) {
	r, ch, sink := newTestReceiver()

	// the second segment arrives first
	if _, err := r.handleSegment(dataSegment(MSS, bytes.Repeat([]byte{'b'}, MSS))); err != nil {
		t.Fatal(err)
	}
	ack := ch.lastSegment(t)
	if ack.Seq != 0 {
		t.Errorf("ACK = %d, want 0 while the gap is open", ack.Seq)
	}
	if !ack.HasSack || ack.Sack != (SackBlock{Start: MSS, End: 2 * MSS}) {
		t.Errorf("SACK = %+v (present=%v), want [%d,%d)", ack.Sack, ack.HasSack, MSS, 2*MSS)
	}
	if r.Stats().OutOfOrderBuffered != 1 {
		t.Errorf("OutOfOrderBuffered = %d, want 1", r.Stats().OutOfOrderBuffered)
	}

	// the gap closes and both segments drain in order
	if _, err := r.handleSegment(dataSegment(0, bytes.Repeat([]byte{'a'}, MSS))); err != nil {
		t.Fatal(err)
	}
	ack = ch.lastSegment(t)
	if ack.Seq != 2*MSS {
		t.Errorf("ACK after gap fill = %d, want %d", ack.Seq, 2*MSS)
	}
	if ack.HasSack {
		t.Error("drained buffer still advertised a SACK block")
	}
	want := append(bytes.Repeat([]byte{'a'}, MSS), bytes.Repeat([]byte{'b'}, MSS)...)
	if !bytes.Equal(sink.Bytes(), want) {
		t.Error("sink contents out of order")
	}
}

func TestReceiverDuplicateReacked(t *testing.T) {
	r, ch, sink := newTestReceiver()
	seg := dataSegment(0, []byte("abc"))
	if _, err := r.handleSegment(seg); err != nil {
		t.Fatal(err)
	}
	if _, err := r.handleSegment(seg); err != nil {
		t.Fatal(err)
	}
	if got := ch.lastSegment(t).Seq; got != 3 {
		t.Errorf("duplicate re-ACK = %d, want 3", got)
	}
	if r.Stats().DuplicatesDiscarded != 1 {
		t.Errorf("DuplicatesDiscarded = %d, want 1", r.Stats().DuplicatesDiscarded)
	}
	if !bytes.Equal(sink.Bytes(), []byte("abc")) {
		t.Error("duplicate was delivered twice")
	}
}

func TestReceiverTerminalFinishes(t *testing.T) {
	r, ch, sink := newTestReceiver()
	if _, err := r.handleSegment(dataSegment(0, []byte("payload"))); err != nil {
		t.Fatal(err)
	}
	acksBefore := len(ch.sent)

	done, err := r.handleSegment(dataSegment(7, TerminalMarker))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("terminal segment did not finish the session")
	}
	if got := len(ch.sent) - acksBefore; got != finalAckBurst {
		t.Errorf("final ACK burst = %d, want %d", got, finalAckBurst)
	}
	final := ch.lastSegment(t)
	if final.Seq != 7+uint32(len(TerminalMarker)) {
		t.Errorf("final ACK = %d, want %d", final.Seq, 7+len(TerminalMarker))
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}

	// a late duplicate of the terminal is a no-op
	sends := len(ch.sent)
	done, err = r.handleSegment(dataSegment(7, TerminalMarker))
	if !done || err != nil {
		t.Fatalf("late terminal = (%v, %v)", done, err)
	}
	if len(ch.sent) != sends || sink.closed != 1 {
		t.Error("late terminal re-ran completion")
	}
}

func TestReceiverTerminalArrivesEarly(t *testing.T) {
	r, ch, sink := newTestReceiver()
	if _, err := r.handleSegment(dataSegment(4, TerminalMarker)); err != nil {
		t.Fatal(err)
	}
	if got := ch.lastSegment(t).Seq; got != 0 {
		t.Errorf("ACK = %d, want 0 before the data lands", got)
	}

	done, err := r.handleSegment(dataSegment(0, []byte("data")))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("buffered terminal did not finish after the gap closed")
	}
	if got := ch.lastSegment(t).Seq; got != 4+uint32(len(TerminalMarker)) {
		t.Errorf("final ACK = %d, want %d", got, 4+len(TerminalMarker))
	}
	if !bytes.Equal(sink.Bytes(), []byte("data")) || sink.closed != 1 {
		t.Error("data not finalized before completion")
	}
}

func TestReceiverCountsOverflowSeparately(t *testing.T) {
	ch := &captureChannel{}
	sink := &memSink{}
	cfg := DefaultConfig()
	cfg.ReorderCapacity = 1
	r := NewReceiver(ch, sink, cfg, zerolog.Nop())

	if _, err := r.handleSegment(dataSegment(MSS, []byte("held"))); err != nil {
		t.Fatal(err)
	}
	if _, err := r.handleSegment(dataSegment(2*MSS, []byte("spill"))); err != nil {
		t.Fatal(err)
	}
	if _, err := r.handleSegment(dataSegment(MSS, []byte("held"))); err != nil {
		t.Fatal(err)
	}

	stats := r.Stats()
	if stats.OutOfOrderBuffered != 1 {
		t.Errorf("OutOfOrderBuffered = %d, want 1", stats.OutOfOrderBuffered)
	}
	if stats.ReorderOverflowDropped != 1 {
		t.Errorf("ReorderOverflowDropped = %d, want 1", stats.ReorderOverflowDropped)
	}
	if stats.DuplicatesDiscarded != 1 {
		t.Errorf("DuplicatesDiscarded = %d, want 1", stats.DuplicatesDiscarded)
	}
}

func TestReceiverDropsMalformedDatagram(t *testing.T) {
	r, ch, _ := newTestReceiver()
	done, err := r.handleDatagram([]byte{'R'})
	if done || err != nil {
		t.Fatalf("handleDatagram = (%v, %v)", done, err)
	}
	if len(ch.sent) != 0 {
		t.Error("malformed datagram was acknowledged")
	}
	if r.Stats().PacketsReceived != 0 {
		t.Error("malformed datagram counted as received")
	}
}
