package protocol

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	// MSS is the largest payload carried by one datagram.
	MSS = 1180
	// HeaderSize is the fixed wire header length.
	HeaderSize = 20
	// MaxDatagram bounds a whole datagram, header included.
	MaxDatagram = HeaderSize + MSS

	reservedVersion = 1

	flagSack      = 1 << 0
	flagTimestamp = 1 << 1
)

// TerminalMarker is the payload of the segment that ends a transfer. The
// source file is assumed to never end with this literal.
var TerminalMarker = []byte("EOF")

var (
	ErrMalformedSegment = errors.New("malformed segment")
	ErrPayloadTooLarge  = errors.New("payload exceeds MSS")
)

// SackBlock is one contiguous received byte range, End exclusive.
type SackBlock struct {
	Start uint32
	End   uint32
}

// Segment is the wire-format unit. Data segments carry the byte offset of
// their first payload byte in Seq; ACK segments carry the receiver's next
// expected offset (cumulative ACK) and no payload.
//
// The 16 reserved header bytes hold a versioned extension region:
//
//	byte  4      version (1)
//	byte  5      flags (bit0 SACK block present, bit1 timestamp present)
//	bytes 6-7    payload checksum, one's complement sum
//	bytes 8-11   timestamp in microseconds mod 2^32; ACKs echo the
//	             timestamp of the segment that triggered them
//	bytes 12-15  SACK block start
//	bytes 16-19  SACK block end (exclusive)
type Segment struct {
	Seq          uint32
	Timestamp    uint32
	HasTimestamp bool
	Sack         SackBlock
	HasSack      bool
	Payload      []byte
}

// IsTerminal reports whether the segment carries the end-of-transfer marker.
func (s *Segment) IsTerminal() bool {
	return bytes.Equal(s.Payload, TerminalMarker)
}

// EncodeSegment serializes a segment into a datagram buffer.
func EncodeSegment(seg *Segment) ([]byte, error) {
	if len(seg.Payload) > MSS {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(seg.Payload))
	}
	buf := make([]byte, HeaderSize+len(seg.Payload))
	binary.BigEndian.PutUint32(buf[0:4], seg.Seq)
	buf[4] = reservedVersion
	var flags byte
	if seg.HasSack {
		flags |= flagSack
	}
	if seg.HasTimestamp {
		flags |= flagTimestamp
	}
	buf[5] = flags
	binary.BigEndian.PutUint16(buf[6:8], payloadChecksum(seg.Payload))
	if seg.HasTimestamp {
		binary.BigEndian.PutUint32(buf[8:12], seg.Timestamp)
	}
	if seg.HasSack {
		binary.BigEndian.PutUint32(buf[12:16], seg.Sack.Start)
		binary.BigEndian.PutUint32(buf[16:20], seg.Sack.End)
	}
	copy(buf[HeaderSize:], seg.Payload)
	return buf, nil
}

// DecodeSegment parses a raw datagram. Undersized, unversioned, or corrupt
// buffers fail with ErrMalformedSegment; callers discard those datagrams.
func DecodeSegment(buf []byte) (*Segment, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrMalformedSegment, "short datagram: %d bytes", len(buf))
	}
	if buf[4] != reservedVersion {
		return nil, errors.Wrapf(ErrMalformedSegment, "unknown header version %d", buf[4])
	}
	payload := buf[HeaderSize:]
	if binary.BigEndian.Uint16(buf[6:8]) != payloadChecksum(payload) {
		return nil, errors.Wrap(ErrMalformedSegment, "payload checksum mismatch")
	}
	seg := &Segment{Seq: binary.BigEndian.Uint32(buf[0:4])}
	flags := buf[5]
	if flags&flagTimestamp != 0 {
		seg.HasTimestamp = true
		seg.Timestamp = binary.BigEndian.Uint32(buf[8:12])
	}
	if flags&flagSack != 0 {
		seg.HasSack = true
		seg.Sack.Start = binary.BigEndian.Uint32(buf[12:16])
		seg.Sack.End = binary.BigEndian.Uint32(buf[16:20])
	}
	seg.Payload = make([]byte, len(payload))
	copy(seg.Payload, payload)
	return seg, nil
}

func payloadChecksum(payload []byte) uint16 {
	return header.Checksum(payload, 0) ^ 0xffff
}

func nowMicros(t time.Time) uint32 {
	return uint32(t.UnixMicro())
}
