package protocol

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sender drives the transmitting side of one transfer session: it packetizes
// the source under the window limit, processes ACKs in arrival order, and
// retransmits on duplicate-ACK and timeout signals. Single-goroutine; all
// protocol state is owned by the event loop.
type Sender struct {
	cfg Config
	ch  DatagramChannel
	src ByteSource
	log zerolog.Logger

	rtt *RTTEstimator
	cc  *CongestionController
	rtx *RetransmissionBuffer

	sendBase   uint32 // lowest unacknowledged offset
	nextSeq    uint32 // next unsent offset
	sourceDone bool
	eofSeq     uint32
	eofSent    bool

	lastMode CongestionMode
	stats    TransferStats
	trace    *cwndTrace
}

func NewSender(ch DatagramChannel, src ByteSource, cfg Config, log zerolog.Logger) *Sender {
	return &Sender{
		cfg: cfg,
		ch:  ch,
		src: src,
		log: log,
		rtt: NewRTTEstimator(cfg.MinRTO, cfg.MaxRTO),
		cc:  NewCongestionController(cfg.MSS, cfg.InitialSsthresh),
		rtx: NewRetransmissionBuffer(cfg.MaxRetransmits),
	}
}

// Stats returns the session counters accumulated so far.
func (s *Sender) Stats() TransferStats { return s.stats }

// Run performs the whole transfer. It returns nil once the terminal segment
// is acknowledged, ErrConnectionLost when a segment exhausts its retry
// budget, or the context error on external stop.
func (s *Sender) Run(ctx context.Context) error {
	s.stats.Started = time.Now()
	if s.cfg.CwndTracePath != "" && s.congestionControlled() {
		trace, err := newCwndTrace(s.cfg.CwndTracePath, s.stats.Started)
		if err != nil {
			return err
		}
		s.trace = trace
		defer s.trace.Close()
	}
	defer s.logSummary()

	if err := s.fillWindow(time.Now()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := s.ch.Receive(s.cfg.PollInterval)
		switch {
		case err == nil:
			done, err := s.handleDatagram(buf, time.Now())
			if err != nil {
				return err
			}
			if done {
				s.stats.Finished = time.Now()
				return nil
			}
		case errors.Is(err, ErrNoDatagram):
			// poll tick, fall through to the timer check
		default:
			return err
		}

		now := time.Now()
		if err := s.checkTimeout(now); err != nil {
			return err
		}
		if err := s.fillWindow(now); err != nil {
			return err
		}
	}
}

func (s *Sender) congestionControlled() bool { return s.cfg.WindowBytes == 0 }

// allowedWindow is the in-flight byte budget: the operator-fixed window in
// reliability-only operation, otherwise cwnd.
func (s *Sender) allowedWindow() int {
	if !s.congestionControlled() {
		return s.cfg.WindowBytes
	}
	return s.cc.Window()
}

func (s *Sender) handleDatagram(buf []byte, now time.Time) (bool, error) {
	ack, err := DecodeSegment(buf)
	if err != nil {
		// handshake request retries land here too; both are dropped
		s.log.Debug().Err(err).Msg("discarding malformed datagram")
		return false, nil
	}
	return s.handleAck(ack, now)
}

// handleAck applies one cumulative ACK. New values release buffered
// segments, feed the estimator, and grow the window; duplicates of the send
// base only count toward fast retransmit; anything older is stale and
// ignored, so a late ACK can never rewind window state.
func (s *Sender) handleAck(ack *Segment, now time.Time) (bool, error) {
	if ack.HasSack {
		s.rtx.MarkSacked(ack.Sack)
	}

	switch {
	case seqLT(s.sendBase, ack.Seq):
		bytesAcked := int(ack.Seq - s.sendBase)
		_, samples := s.rtx.AckCumulative(ack.Seq, now)
		for _, sample := range samples {
			s.rtt.OnSample(sample)
		}
		s.sendBase = ack.Seq
		s.cc.OnAck(ack.Seq, bytesAcked)
		s.recordWindow(now)
		if s.eofSent && seqLT(s.eofSeq, ack.Seq) {
			return true, nil
		}
	case ack.Seq == s.sendBase && s.rtx.Len() > 0:
		if s.cc.OnDuplicateAck(ack.Seq, s.nextSeq) {
			if err := s.fastRetransmit(ack.Seq, now); err != nil {
				return false, err
			}
		}
		s.recordWindow(now)
	default:
		// stale ACK behind the window
	}
	return false, nil
}

func (s *Sender) fastRetransmit(seq uint32, now time.Time) error {
	seg, ok := s.rtx.Get(seq)
	if !ok || seg.Sacked {
		return nil
	}
	s.log.Debug().Uint32("seq", seq).Msg("fast retransmit")
	if err := s.transmit(seg.Seq, seg.Payload, now); err != nil {
		return err
	}
	s.stats.Retransmissions++
	s.stats.FastRetransmits++
	return s.rtx.MarkRetransmitted(seq, now)
}

// checkTimeout services at most one expired deadline per pass.
func (s *Sender) checkTimeout(now time.Time) error {
	seg := s.rtx.ExpiredSegment(now, s.rtt.RTO())
	if seg == nil {
		return nil
	}
	s.log.Debug().
		Uint32("seq", seg.Seq).
		Dur("rto", s.rtt.RTO()).
		Int("retransmits", seg.RetransmitCount).
		Msg("retransmission timeout")
	s.cc.OnTimeout()
	s.recordWindow(now)
	s.rtt.Backoff()
	if err := s.transmit(seg.Seq, seg.Payload, now); err != nil {
		return err
	}
	s.stats.Retransmissions++
	s.stats.TimeoutRetransmits++
	return s.rtx.MarkRetransmitted(seg.Seq, now)
}

// fillWindow packetizes and transmits new data while the window has room.
// Chunks are always requested at full MSS so a short payload can only be the
// source tail; a mid-file segment can therefore never equal the terminal
// marker. Once the source is drained and every data byte acknowledged, the
// terminal segment enters the same retransmission regime as data.
func (s *Sender) fillWindow(now time.Time) error {
	window := s.allowedWindow()
	for !s.sourceDone && s.rtx.OutstandingBytes() < window {
		if window-s.rtx.OutstandingBytes() < s.cfg.MSS && s.rtx.Len() > 0 {
			// sub-MSS headroom: wait for ACKs rather than emit a short chunk
			break
		}
		payload, err := s.src.NextChunk(s.cfg.MSS)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			s.sourceDone = true
			break
		}
		seq := s.nextSeq
		s.rtx.Insert(seq, payload, now)
		if err := s.transmit(seq, payload, now); err != nil {
			return err
		}
		s.nextSeq += uint32(len(payload))
		if s.src.Exhausted() {
			s.sourceDone = true
		}
	}

	if s.sourceDone && !s.eofSent && s.sendBase == s.nextSeq {
		s.eofSeq = s.nextSeq
		s.eofSent = true
		s.rtx.Insert(s.eofSeq, TerminalMarker, now)
		s.log.Info().Uint32("seq", s.eofSeq).Msg("sending terminal segment")
		return s.transmit(s.eofSeq, TerminalMarker, now)
	}
	return nil
}

func (s *Sender) transmit(seq uint32, payload []byte, now time.Time) error {
	buf, err := EncodeSegment(&Segment{
		Seq:          seq,
		Timestamp:    nowMicros(now),
		HasTimestamp: true,
		Payload:      payload,
	})
	if err != nil {
		return err
	}
	if err := s.ch.Send(buf); err != nil {
		return err
	}
	s.stats.PacketsSent++
	return nil
}

func (s *Sender) recordWindow(now time.Time) {
	if !s.congestionControlled() {
		return
	}
	if mode := s.cc.Mode(); mode != s.lastMode {
		s.log.Info().
			Stringer("from", s.lastMode).
			Stringer("to", mode).
			Int("cwnd", s.cc.Window()).
			Int("ssthresh", s.cc.Ssthresh()).
			Msg("congestion mode change")
		s.lastMode = mode
	}
	if s.trace != nil {
		s.trace.Record(now, s.cc.Window())
	}
}

func (s *Sender) logSummary() {
	s.log.Info().
		Int("packets_sent", s.stats.PacketsSent).
		Int("retransmissions", s.stats.Retransmissions).
		Int("fast_retransmits", s.stats.FastRetransmits).
		Int("timeout_retransmits", s.stats.TimeoutRetransmits).
		Dur("elapsed", s.stats.Elapsed()).
		Msg("sender session finished")
}
