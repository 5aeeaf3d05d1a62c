package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the first header byte and tells the receiver what the body holds
type Kind uint8

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
	KindPing     Kind = 2
	KindPong     Kind = 3
)

// HeaderSize is the size of every frame header: 1 byte kind + 4 byte body length
const HeaderSize = 5

// DefaultMaxBodySize is used when a parser is created with a max body size of 0
const DefaultMaxBodySize = 64 << 20 // 64 MB

var (
	// ErrFrameTooLarge is returned by the parser when a header announces a
	// body larger than the configured limit. The stream can not be trusted
	// afterwards and the connection should be dropped.
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrShortHeader is returned when unmarshalling less than HeaderSize bytes
	ErrShortHeader = errors.New("wire: short header")
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// IsHeartbeat reports whether frames of this kind carry no payload of interest
func (k Kind) IsHeartbeat() bool {
	return k == KindPing || k == KindPong
}

// Valid reports whether the kind is one of the known frame kinds
func (k Kind) Valid() bool {
	return k <= KindPong
}

// ByteOrder returns the byte order used for the length field. The default
// (network == false) is the host byte order, which is what existing peers
// speak. Network order must be enabled on both sides.
func ByteOrder(network bool) binary.ByteOrder {
	if network {
		return binary.BigEndian
	}
	return binary.NativeEndian
}

// Header is the decoded form of the 5 header bytes
type Header struct {
	Kind   Kind
	Length uint32
}

// Marshal writes the header to dst, which must hold at least HeaderSize bytes
func (h Header) Marshal(order binary.ByteOrder, dst []byte) {
	dst[0] = byte(h.Kind)
	order.PutUint32(dst[1:HeaderSize], h.Length)
}

// UnmarshalHeader decodes the first HeaderSize bytes of src
func UnmarshalHeader(order binary.ByteOrder, src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Kind:   Kind(src[0]),
		Length: order.Uint32(src[1:HeaderSize]),
	}, nil
}

// AppendFrame appends a complete frame (header + body) to dst and returns
// the extended slice
func AppendFrame(dst []byte, order binary.ByteOrder, kind Kind, body []byte) []byte {
	var hdr [HeaderSize]byte
	Header{Kind: kind, Length: uint32(len(body))}.Marshal(order, hdr[:])
	dst = append(dst, hdr[:]...)
	return append(dst, body...)
}

// HeartbeatFrame returns a body-less PING or PONG frame
func HeartbeatFrame(order binary.ByteOrder, kind Kind) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize), order, kind, nil)
}
