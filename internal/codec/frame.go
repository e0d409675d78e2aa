// Package codec implements the fixed-header binary framing used on every
// gateway connection: a 20-byte header followed by an opaque body.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a valid frame header.
const Magic uint16 = 0x55AA

// HeaderSize is the fixed, 1-byte-aligned wire size of a Header.
const HeaderSize = 20

// MaxBodySize bounds the body length accepted on ingress and produced on
// egress.
const MaxBodySize = 64 * 1024

// Header is the frame header, always held in host byte order while
// resident. Conversion to/from network order happens exactly once, inside
// Encode and DecodeHeader.
type Header struct {
	Magic     uint16
	Version   uint16
	ServiceID uint16
	CmdID     uint16
	Length    uint32
	Seq       uint32
}

// Validate reports whether h is an acceptable header to act on.
func Validate(h Header) error {
	if h.Magic != Magic {
		return fmt.Errorf("codec: bad magic 0x%04x", h.Magic)
	}
	if h.Length > MaxBodySize {
		return fmt.Errorf("codec: body length %d exceeds max %d", h.Length, MaxBodySize)
	}
	return nil
}

// Encode renders h and body into a single contiguous buffer of
// HeaderSize+len(body) bytes. h.Length is overwritten with len(body)
// regardless of its current value.
func Encode(h Header, body []byte) []byte {
	h.Length = uint32(len(body))

	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Version)
	binary.BigEndian.PutUint16(buf[4:6], h.ServiceID)
	binary.BigEndian.PutUint16(buf[6:8], h.CmdID)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	binary.BigEndian.PutUint32(buf[12:16], h.Seq)
	// bytes 16:20 reserved, left zero
	copy(buf[HeaderSize:], body)
	return buf
}

// DecodeHeader parses the fixed 20-byte header from buf, converting from
// network to host order. buf must be at least HeaderSize bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("codec: short header buffer: %d bytes", len(buf))
	}
	return Header{
		Magic:     binary.BigEndian.Uint16(buf[0:2]),
		Version:   binary.BigEndian.Uint16(buf[2:4]),
		ServiceID: binary.BigEndian.Uint16(buf[4:6]),
		CmdID:     binary.BigEndian.Uint16(buf[6:8]),
		Length:    binary.BigEndian.Uint32(buf[8:12]),
		Seq:       binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}
