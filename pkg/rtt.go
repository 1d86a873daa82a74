package protocol

import "time"

const (
	rttAlpha = 0.125
	rttBeta  = 0.25

	// clockGranularity is the G term of the RFC 6298 RTO formula.
	clockGranularity = time.Millisecond

	// initialRTO applies until the first round-trip sample arrives.
	initialRTO = time.Second
)

// RTTEstimator maintains the smoothed round-trip time and its variance, and
// derives the retransmission timeout from them. One instance per session,
// owned by the Sender, so RTT history never leaks between transfers.
type RTTEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	minRTO  time.Duration
	maxRTO  time.Duration
	sampled bool
}

func NewRTTEstimator(minRTO, maxRTO time.Duration) *RTTEstimator {
	e := &RTTEstimator{minRTO: minRTO, maxRTO: maxRTO}
	e.rto = e.clamp(initialRTO)
	return e
}

// OnSample folds a fresh round-trip measurement into the estimate and
// recomputes the timeout, clearing any backoff. Samples from retransmitted
// segments must never be fed here (Karn's rule); the RetransmissionBuffer
// enforces that on the ACK path.
func (e *RTTEstimator) OnSample(sample time.Duration) {
	if sample <= 0 {
		return
	}
	if !e.sampled {
		e.srtt = sample
		e.rttvar = sample / 2
		e.sampled = true
	} else {
		dev := sample - e.srtt
		if dev < 0 {
			dev = -dev
		}
		e.rttvar = time.Duration((1-rttBeta)*float64(e.rttvar) + rttBeta*float64(dev))
		e.srtt = time.Duration((1-rttAlpha)*float64(e.srtt) + rttAlpha*float64(sample))
	}
	e.rto = e.clamp(e.srtt + max(clockGranularity, 4*e.rttvar))
}

// RTO returns the current per-segment deadline, backoff included.
func (e *RTTEstimator) RTO() time.Duration {
	return e.rto
}

// SRTT returns the smoothed round-trip estimate, zero before any sample.
func (e *RTTEstimator) SRTT() time.Duration {
	return e.srtt
}

// Backoff doubles the timeout after a timeout-driven retransmission. The
// doubled value sticks until the next fresh sample restores the computed one.
func (e *RTTEstimator) Backoff() {
	e.rto = min(2*e.rto, e.maxRTO)
}

func (e *RTTEstimator) clamp(rto time.Duration) time.Duration {
	return min(max(rto, e.minRTO), e.maxRTO)
}
