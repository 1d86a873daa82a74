package protocol

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// TransferStats accumulates per-session counters for the end-of-run report.
type TransferStats struct {
	PacketsSent            int
	PacketsReceived        int
	Retransmissions        int
	FastRetransmits        int
	TimeoutRetransmits     int
	DuplicatesDiscarded    int
	OutOfOrderBuffered     int
	ReorderOverflowDropped int
	BytesTransferred       int64
	Started                time.Time
	Finished               time.Time
}

func (s *TransferStats) Elapsed() time.Duration {
	end := s.Finished
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.Started)
}

// Throughput returns bytes per second over the session.
func (s *TransferStats) Throughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / elapsed
}

// cwndTrace appends "time,cwnd" rows while the window changes, for offline
// plotting of congestion behaviour.
type cwndTrace struct {
	f     *os.File
	w     *bufio.Writer
	start time.Time
	last  int
}

func newCwndTrace(path string, start time.Time) (*cwndTrace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create cwnd trace %s", path)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "time,cwnd")
	return &cwndTrace{f: f, w: w, start: start}, nil
}

func (t *cwndTrace) Record(now time.Time, cwnd int) {
	if cwnd == t.last {
		return
	}
	t.last = cwnd
	fmt.Fprintf(t.w, "%.3f,%d\n", now.Sub(t.start).Seconds(), cwnd)
}

func (t *cwndTrace) Close() error {
	if err := t.w.Flush(); err != nil {
		t.f.Close()
		return errors.Wrap(err, "flush cwnd trace")
	}
	return errors.Wrap(t.f.Close(), "close cwnd trace")
}
