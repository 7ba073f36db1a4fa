// Package mp4 provides incremental parsing of a fragmented-MP4 byte stream
// into boxes, and assembly of those boxes into the initialization and media
// segments a secure-video recording consumer accepts.
package mp4

import (
	"bytes"
	"encoding/binary"
)

// HeaderSize is the fixed size of a box header: a 4-byte big-endian total
// length followed by a 4-character type tag.
const HeaderSize = 8

// Box is one parsed MP4 box. Boxes are never mutated after parsing.
type Box struct {
	// Length is the total box length including the 8-byte header.
	Length uint32
	// Type is the 4-character box type tag, e.g. "moof".
	Type string
	// Payload holds the Length-8 bytes following the header.
	Payload []byte
}

// Assemble re-serializes the box to its original wire form.
func (b Box) Assemble() []byte {
	var buf bytes.Buffer
	buf.Grow(int(b.Length))

	var size = make([]byte, 4)
	binary.BigEndian.PutUint32(size, b.Length)
	buf.Write(size)
	buf.WriteString(b.Type)
	buf.Write(b.Payload)

	return buf.Bytes()
}

// Segment is a concatenation of complete boxes forming either the
// initialization unit (ftyp+moov) or one media unit (moof+mdat).
type Segment struct {
	Boxes []Box
}

// IsInit reports whether this is the initialization segment.
func (s Segment) IsInit() bool {
	return len(s.Boxes) > 0 && s.Boxes[0].Type == BoxTypeFileType
}

// Bytes returns the segment's boxes concatenated in wire form.
func (s Segment) Bytes() []byte {
	var buf bytes.Buffer
	for _, b := range s.Boxes {
		buf.Write(b.Assemble())
	}
	return buf.Bytes()
}

// Box types relevant to segment pairing.
const (
	BoxTypeFileType = "ftyp"
	BoxTypeMovie    = "moov"
	BoxTypeFragment = "moof"
	BoxTypeData     = "mdat"
)
