package mp4

import "sync"

// Assembler groups parsed boxes into segments. Whenever a moov or mdat box
// arrives, the accumulated group, which by construction starts with the most
// recent ftyp or moof, is flushed as one Segment. The segment sequence is
// lazy, non-restartable, and ends only at end-of-stream; a trailing
// incomplete group is discarded, since a recording consumer cannot use a
// broken fragment.
//
// Add and Close must be called from the same producer goroutine (the stream
// pump). Cancel may be called from any goroutine to detach the consumer and
// unblock a pending flush.
type Assembler struct {
	pending  []Box
	out      chan Segment
	done     chan struct{}
	cancel   sync.Once
	detached bool
	closed   bool
}

// NewAssembler returns an Assembler whose segment channel buffers up to
// depth segments before Add blocks on the consumer.
func NewAssembler(depth int) *Assembler {
	return &Assembler{
		out:  make(chan Segment, depth),
		done: make(chan struct{}),
	}
}

// Add appends a box to the working group, flushing a Segment when the box
// completes a ftyp+moov or moof+mdat pair.
func (a *Assembler) Add(b Box) {
	if a.detached || a.closed {
		return
	}
	a.pending = append(a.pending, b)

	if b.Type != BoxTypeMovie && b.Type != BoxTypeData {
		return
	}

	seg := Segment{Boxes: a.pending}
	a.pending = nil

	select {
	case a.out <- seg:
	case <-a.done:
		a.detached = true
	}
}

// Segments returns the ordered segment sequence. The channel is closed at
// end-of-stream; it never delivers a partially assembled segment.
func (a *Assembler) Segments() <-chan Segment {
	return a.out
}

// Close ends the segment sequence, discarding any incomplete trailing group.
func (a *Assembler) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.pending = nil
	close(a.out)
}

// Cancel detaches the consumer. A flush blocked on a slow consumer returns
// immediately and all later boxes are dropped.
func (a *Assembler) Cancel() {
	a.cancel.Do(func() { close(a.done) })
}
