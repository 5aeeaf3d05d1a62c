package wire

import (
	"encoding/binary"
	"fmt"
)

type parserState int

const (
	awaitingHeader parserState = iota
	awaitingBody
)

// Frame is one decoded frame. Body is nil for heartbeats.
type Frame struct {
	Kind Kind
	Body []byte
}

// Parser reassembles frames from a byte stream that arrives in arbitrary
// chunks. There is one parser per connection, owned by the goroutine that
// owns the connection.
//
// The parser always reads a complete header before it looks at body bytes.
// Heartbeat frames are returned as soon as their header is complete, a body
// attached to a heartbeat is skipped without being buffered. Frames of an
// unknown kind are skipped the same way.
type Parser struct {
	order   binary.ByteOrder
	maxBody uint32

	buf []byte
	off int // read offset into buf

	state   parserState
	pending Header // header of the frame whose body is awaited
	discard uint32 // bytes to skip before the next header
}

// NewParser creates a parser. A maxBody of 0 selects DefaultMaxBodySize.
func NewParser(order binary.ByteOrder, maxBody uint32) *Parser {
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}
	return &Parser{
		order:   order,
		maxBody: maxBody,
	}
}

// Feed appends a chunk read from the socket. The chunk is copied.
func (p *Parser) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	// skip bytes that belong to a discarded body before buffering anything
	if p.discard > 0 && p.buffered() == 0 {
		n := uint32(len(chunk))
		if n > p.discard {
			n = p.discard
		}
		p.discard -= n
		chunk = chunk[n:]
		if len(chunk) == 0 {
			return
		}
	}

	p.compact()
	p.buf = append(p.buf, chunk...)
}

// Next returns the next complete frame. The bool is false if more bytes are
// needed. An error means the stream is corrupt and the connection must be
// closed.
func (p *Parser) Next() (Frame, bool, error) {
	for {
		if p.discard > 0 {
			n := uint32(p.buffered())
			if n > p.discard {
				n = p.discard
			}
			p.off += int(n)
			p.discard -= n
			if p.discard > 0 {
				return Frame{}, false, nil
			}
		}

		switch p.state {
		case awaitingHeader:
			if p.buffered() < HeaderSize {
				return Frame{}, false, nil
			}
			hdr, _ := UnmarshalHeader(p.order, p.buf[p.off:])
			p.off += HeaderSize

			if !hdr.Kind.Valid() {
				p.discard = hdr.Length
				continue
			}

			if hdr.Kind.IsHeartbeat() {
				p.discard = hdr.Length
				return Frame{Kind: hdr.Kind}, true, nil
			}

			if hdr.Length > p.maxBody {
				return Frame{}, false, fmt.Errorf("%w: %d bytes announced, limit is %d", ErrFrameTooLarge, hdr.Length, p.maxBody)
			}

			p.pending = hdr
			p.state = awaitingBody

		case awaitingBody:
			n := int(p.pending.Length)
			if p.buffered() < n {
				return Frame{}, false, nil
			}
			body := make([]byte, n)
			copy(body, p.buf[p.off:p.off+n])
			p.off += n
			p.state = awaitingHeader
			return Frame{Kind: p.pending.Kind, Body: body}, true, nil
		}
	}
}

// Reset drops all buffered bytes and returns to the initial state. Used when
// a connection is re-established.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.off = 0
	p.state = awaitingHeader
	p.pending = Header{}
	p.discard = 0
}

// buffered returns the number of unread bytes
func (p *Parser) buffered() int {
	return len(p.buf) - p.off
}

// compact moves unread bytes to the front of the buffer once at least half
// of it has been consumed
func (p *Parser) compact() {
	if p.off == 0 {
		return
	}
	if p.off == len(p.buf) {
		p.buf = p.buf[:0]
		p.off = 0
		return
	}
	if p.off >= len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
}
