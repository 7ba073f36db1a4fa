// Package timeshift retains a rolling window of recent fMP4 segments from a
// live source so a new recording or viewing session can start from history
// instead of waiting for the next keyframe.
package timeshift

import (
	"bytes"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/camkit/protect-stream/mp4"
)

// entry is one retained segment plus its approximate arrival time.
type entry struct {
	seg     mp4.Segment
	arrived time.Time
}

// Buffer holds the rolling window for one camera+profile. Pruning is lazy:
// entries older than the retention window are dropped on each arrival, not
// by a timer. Total retained duration is capped regardless of producer rate.
type Buffer struct {
	mu        sync.Mutex
	retention time.Duration
	entries   []entry
	init      *mp4.Segment
	consumers map[*Consumer]struct{}
	closed    bool
	gauge     prometheus.Gauge

	now func() time.Time // test hook
}

// NewBuffer creates a buffer retaining segments for the given window.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{
		retention: retention,
		consumers: make(map[*Consumer]struct{}),
		now:       time.Now,
	}
}

// SetInit records the stream's initialization segment.
func (b *Buffer) SetInit(seg mp4.Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.init = &seg
}

// Init returns the initialization segment, or nil if none arrived yet.
func (b *Buffer) Init() *mp4.Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init
}

// Append adds a live segment, prunes expired entries, and fans the segment
// out to every acquired consumer.
func (b *Buffer) Append(seg mp4.Segment) {
	now := b.now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.entries = append(b.entries, entry{seg: seg, arrived: now})

	cutoff := now.Add(-b.retention)
	drop := 0
	for drop < len(b.entries) && !b.entries[drop].arrived.After(cutoff) {
		drop++
	}
	b.entries = b.entries[drop:]
	if b.gauge != nil {
		b.gauge.Add(float64(1 - drop))
	}

	consumers := make([]*Consumer, 0, len(b.consumers))
	for c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.mu.Unlock()

	for _, c := range consumers {
		c.deliver(seg)
	}
}

// GetLast returns the concatenation of all retained segments that arrived
// within the trailing window, or nil if the buffer holds none. Callers use
// it to seed a fresh consumer with immediately playable history.
func (b *Buffer) GetLast(window time.Duration) []byte {
	cutoff := b.now().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	var out bytes.Buffer
	for _, e := range b.entries {
		if !e.arrived.After(cutoff) {
			continue
		}
		out.Write(e.seg.Bytes())
	}
	if out.Len() == 0 {
		return nil
	}
	return out.Bytes()
}

// Len reports the number of retained segments.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Acquire registers a live consumer. The handle receives every segment
// appended after this call; it never receives historical segments. A
// late-joining consumer backfills via GetLast.
func (b *Buffer) Acquire() *Consumer {
	c := &Consumer{
		buf:  b,
		segs: make(chan mp4.Segment, consumerDepth),
	}

	b.mu.Lock()
	if b.closed {
		c.done = true
		close(c.segs)
	} else {
		b.consumers[c] = struct{}{}
	}
	b.mu.Unlock()
	return c
}

// Close tears the buffer down, ending every consumer's segment sequence.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	consumers := make([]*Consumer, 0, len(b.consumers))
	for c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.consumers = make(map[*Consumer]struct{})
	if b.gauge != nil {
		b.gauge.Sub(float64(len(b.entries)))
	}
	b.entries = nil
	b.mu.Unlock()

	for _, c := range consumers {
		c.end()
	}
}

// consumerDepth bounds a consumer's in-flight queue. A consumer that falls
// further behind than this loses segments rather than stalling the producer.
const consumerDepth = 32

// Consumer is one acquired live handle on a Buffer.
type Consumer struct {
	buf  *Buffer
	segs chan mp4.Segment

	mu   sync.Mutex
	done bool
}

// Segments delivers live segments in arrival order. The channel is closed
// when the consumer is closed or the buffer is torn down.
func (c *Consumer) Segments() <-chan mp4.Segment {
	return c.segs
}

// Close detaches the consumer from the buffer.
func (c *Consumer) Close() {
	c.buf.mu.Lock()
	delete(c.buf.consumers, c)
	c.buf.mu.Unlock()
	c.end()
}

func (c *Consumer) deliver(seg mp4.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	select {
	case c.segs <- seg:
	default:
		// consumer lagging, drop
	}
}

func (c *Consumer) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	close(c.segs)
}
