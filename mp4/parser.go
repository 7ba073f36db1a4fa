package mp4

import (
	"encoding/binary"
	"fmt"
)

// ErrMalformedBox is returned by Feed when a box header carries a total
// length smaller than the header itself. There is no reliable
// resynchronization point in a box-oriented container, so the caller is
// expected to tear the stream down.
var ErrMalformedBox = fmt.Errorf("mp4: malformed box header")

// Parser incrementally splits a raw byte stream into boxes. Feed may be
// called with arbitrarily sized chunks; a header or payload split across
// calls is buffered, never dropped. At most one box is in progress at any
// time.
type Parser struct {
	onBox func(Box)

	header  [HeaderSize]byte
	hdrLen  int
	pending *Box
	filled  int
}

// NewParser returns a Parser that invokes onBox synchronously for every
// complete box recognized in the fed stream, in arrival order.
func NewParser(onBox func(Box)) *Parser {
	return &Parser{onBox: onBox}
}

// Feed consumes the next chunk of the stream. It emits every box completed
// by this chunk before returning, continuing across the remainder of the
// chunk without waiting for the next call.
func (p *Parser) Feed(data []byte) error {
	for len(data) > 0 {
		if p.pending == nil {
			n := copy(p.header[p.hdrLen:], data)
			p.hdrLen += n
			data = data[n:]
			if p.hdrLen < HeaderSize {
				return nil
			}

			length := binary.BigEndian.Uint32(p.header[0:4])
			if length < HeaderSize {
				return fmt.Errorf("%w: type %q length %d", ErrMalformedBox, string(p.header[4:8]), length)
			}

			p.pending = &Box{
				Length:  length,
				Type:    string(p.header[4:8]),
				Payload: make([]byte, length-HeaderSize),
			}
			p.filled = 0
		}

		n := copy(p.pending.Payload[p.filled:], data)
		p.filled += n
		data = data[n:]

		if p.filled < len(p.pending.Payload) {
			return nil
		}

		box := *p.pending
		p.pending = nil
		p.hdrLen = 0
		p.onBox(box)
	}
	return nil
}
