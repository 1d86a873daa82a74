package protocol

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrNoDatagram reports an empty bounded-wait receive. Callers treat it as a
// poll tick, not a failure.
var ErrNoDatagram = errors.New("no datagram ready")

// DatagramChannel is the unreliable, unordered transport underneath the
// protocol: opaque buffers in, opaque buffers out, no guarantees.
type DatagramChannel interface {
	Send(buf []byte) error
	// Receive waits at most the given duration for one datagram and returns
	// ErrNoDatagram when none arrives in time.
	Receive(wait time.Duration) ([]byte, error)
}

// UDPChannel adapts a UDP socket to DatagramChannel. Dialed sockets leave
// peer nil; listening sockets learn it from the handshake request and drop
// datagrams from anyone else.
type UDPChannel struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

func NewUDPChannel(conn *net.UDPConn, peer *net.UDPAddr) *UDPChannel {
	return &UDPChannel{conn: conn, peer: peer}
}

func (c *UDPChannel) Send(buf []byte) error {
	var err error
	if c.peer != nil {
		_, err = c.conn.WriteToUDP(buf, c.peer)
	} else {
		_, err = c.conn.Write(buf)
	}
	return errors.Wrap(err, "udp send")
}

func (c *UDPChannel) Receive(wait time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, errors.Wrap(err, "set read deadline")
	}
	buf := make([]byte, MaxDatagram)
	for {
		var (
			n   int
			err error
		)
		if c.peer == nil {
			n, err = c.conn.Read(buf)
		} else {
			var from *net.UDPAddr
			n, from, err = c.conn.ReadFromUDP(buf)
			if err == nil && from.String() != c.peer.String() {
				// stray datagram from another endpoint
				continue
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrNoDatagram
			}
			return nil, errors.Wrap(err, "udp receive")
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

// AwaitRequest blocks until the handshake request datagram arrives on a
// listening socket, pins the requester as the channel peer, and returns its
// address. The sender is idle until this returns.
func (c *UDPChannel) AwaitRequest() (*net.UDPAddr, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, errors.Wrap(err, "clear read deadline")
	}
	buf := make([]byte, MaxDatagram)
	_, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, errors.Wrap(err, "await transfer request")
	}
	c.peer = from
	return from, nil
}
