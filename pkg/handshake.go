package protocol

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrHandshakeFailed reports request-retry exhaustion before any transfer
// state exists.
var ErrHandshakeFailed = errors.New("handshake failed: no response from sender")

var requestDatagram = []byte{'R'}

// RequestTransfer opens a session from the receiving side: one request
// datagram per attempt, then a bounded wait for the first data datagram. The
// returned datagram is the first segment of the transfer and must be handled
// like any other.
func RequestTransfer(ch DatagramChannel, attempts int, wait time.Duration, log zerolog.Logger) ([]byte, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info().Int("attempt", attempt).Int("max", attempts).Msg("requesting transfer")
		if err := ch.Send(requestDatagram); err != nil {
			return nil, errors.Wrap(err, "send transfer request")
		}
		buf, err := ch.Receive(wait)
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, ErrNoDatagram) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(ErrHandshakeFailed, "%d attempts", attempts)
}
