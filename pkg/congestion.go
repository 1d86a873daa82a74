package protocol

// CongestionMode identifies the controller phase.
type CongestionMode int

const (
	SlowStart CongestionMode = iota
	CongestionAvoidance
	FastRecovery
)

func (m CongestionMode) String() string {
	switch m {
	case SlowStart:
		return "slow_start"
	case CongestionAvoidance:
		return "congestion_avoidance"
	case FastRecovery:
		return "fast_recovery"
	default:
		return "unknown"
	}
}

// DupAckThreshold is the duplicate-ACK count that triggers fast retransmit.
const DupAckThreshold = 3

// CongestionController implements Reno-style loss-based congestion control.
// cwnd and ssthresh are byte counts; the float fields accumulate the
// fractional growth of congestion avoidance. The controller is driven by
// three events (new ACK, duplicate ACK, timeout) and never touches the wire.
type CongestionController struct {
	cwnd     float64
	ssthresh float64
	mode     CongestionMode
	mss      int

	dupAckCount   int
	lastAckSeen   uint32
	recoveryPoint uint32
}

func NewCongestionController(mss, initialSsthresh int) *CongestionController {
	return &CongestionController{
		cwnd:     float64(mss),
		ssthresh: float64(initialSsthresh),
		mode:     SlowStart,
		mss:      mss,
	}
}

// Window returns the allowed in-flight byte count. It never drops below one
// segment.
func (c *CongestionController) Window() int {
	if c.cwnd < float64(c.mss) {
		c.cwnd = float64(c.mss)
	}
	return int(c.cwnd)
}

func (c *CongestionController) Mode() CongestionMode { return c.mode }

func (c *CongestionController) Ssthresh() int { return int(c.ssthresh) }

// OnAck applies a new cumulative ACK covering bytesAcked fresh bytes. Stale
// ACKs (cumulative value behind the send base) must not reach this method;
// they carry no window information.
func (c *CongestionController) OnAck(ackNum uint32, bytesAcked int) {
	c.dupAckCount = 0
	c.lastAckSeen = ackNum

	if c.mode == FastRecovery {
		if seqLT(ackNum, c.recoveryPoint) {
			// partial ACK: the loss episode is not repaired yet; deflate by
			// the bytes that left the network and stay in recovery
			c.cwnd -= float64(bytesAcked)
			if c.cwnd < float64(c.mss) {
				c.cwnd = float64(c.mss)
			}
			return
		}
		c.cwnd = c.ssthresh
		c.mode = CongestionAvoidance
		return
	}

	switch c.mode {
	case SlowStart:
		c.cwnd += float64(bytesAcked)
		if c.cwnd >= c.ssthresh {
			c.mode = CongestionAvoidance
		}
	case CongestionAvoidance:
		c.cwnd += float64(c.mss) * float64(c.mss) / c.cwnd
	}
}

// OnDuplicateAck counts a duplicate cumulative ACK. Exactly the third
// duplicate for the same value returns true, telling the sender to
// fast-retransmit the segment at ackNum; highestSent becomes the recovery
// point. Duplicates during an ongoing recovery only inflate the window.
func (c *CongestionController) OnDuplicateAck(ackNum, highestSent uint32) bool {
	if c.mode == FastRecovery {
		c.cwnd += float64(c.mss)
		return false
	}
	if ackNum != c.lastAckSeen {
		c.lastAckSeen = ackNum
		c.dupAckCount = 0
	}
	c.dupAckCount++
	if c.dupAckCount != DupAckThreshold {
		return false
	}
	c.ssthresh = max(c.cwnd/2, float64(2*c.mss))
	c.cwnd = c.ssthresh + float64(DupAckThreshold*c.mss)
	c.mode = FastRecovery
	c.recoveryPoint = highestSent
	return true
}

// OnTimeout reacts to an expired retransmission deadline. A timeout is the
// severe congestion signal: whatever the current mode, the window collapses
// to one segment and slow start begins again.
func (c *CongestionController) OnTimeout() {
	c.ssthresh = max(c.cwnd/2, float64(2*c.mss))
	c.cwnd = float64(c.mss)
	c.mode = SlowStart
	c.dupAckCount = 0
}
