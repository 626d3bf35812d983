package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed header size: Sender(8) + Target(8) + Type(2).
const HeaderSize = 18

// ErrShortPacket is returned for messages smaller than a header.
var ErrShortPacket = errors.New("packet shorter than header")

// Header precedes every message on a relay link.
type Header struct {
	Sender PeerID
	Target PeerID
	Type   PacketType
}

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Sender))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Target))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(h.Type))
}

// EncodeHeader returns a fresh HeaderSize-byte encoding of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)
	return buf
}

// PeekHeader decodes only the header of data, leaving the payload untouched.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortPacket, len(data), HeaderSize)
	}
	return Header{
		Sender: PeerID(binary.LittleEndian.Uint64(data[0:8])),
		Target: PeerID(binary.LittleEndian.Uint64(data[8:16])),
		Type:   PacketType(binary.LittleEndian.Uint16(data[16:18])),
	}, nil
}

// TypeOf returns the packet type of an encoded message, or false if the
// message is too short to carry a header.
func TypeOf(data []byte) (PacketType, bool) {
	if len(data) < HeaderSize {
		return 0, false
	}
	return PacketType(binary.LittleEndian.Uint16(data[16:18])), true
}
