package protocol

import "time"

// Config carries the tunable protocol constants. The wire header pins MSS and
// the terminal marker; everything else is per-deployment tuning.
type Config struct {
	// MSS is the payload size used when packetizing.
	MSS int
	// WindowBytes, when positive, fixes the in-flight byte cap and disables
	// congestion control (reliability-only operation). Zero hands the window
	// to the congestion controller.
	WindowBytes int
	// InitialSsthresh seeds the slow-start threshold in bytes.
	InitialSsthresh int

	MinRTO         time.Duration
	MaxRTO         time.Duration
	MaxRetransmits int

	// PollInterval bounds each event-loop wait on the channel.
	PollInterval time.Duration
	// IdleTimeout aborts the receiver when the flow stalls mid-transfer.
	IdleTimeout time.Duration

	HandshakeAttempts int
	HandshakeTimeout  time.Duration

	// ReorderCapacity bounds the receiver's out-of-order buffer, in segments.
	ReorderCapacity int

	// CwndTracePath, when set on a congestion-controlled sender, receives a
	// "time,cwnd" csv trace for offline plotting.
	CwndTracePath string
}

func DefaultConfig() Config {
	return Config{
		MSS:               MSS,
		InitialSsthresh:   64000,
		MinRTO:            200 * time.Millisecond,
		MaxRTO:            3 * time.Second,
		MaxRetransmits:    12,
		PollInterval:      10 * time.Millisecond,
		IdleTimeout:       10 * time.Second,
		HandshakeAttempts: 5,
		HandshakeTimeout:  2 * time.Second,
		ReorderCapacity:   1024,
	}
}
