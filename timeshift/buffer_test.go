package timeshift

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/camkit/protect-stream/mp4"
)

func mediaSegment(marker byte) mp4.Segment {
	return mp4.Segment{Boxes: []mp4.Box{
		{Length: 9, Type: "moof", Payload: []byte{marker}},
		{Length: 9, Type: "mdat", Payload: []byte{marker}},
	}}
}

// Feed 1-second segments over T seconds with retention R: GetLast(R) must
// return exactly the most recent R segments, never older ones.
func TestBuffer_RetentionWindow(t *testing.T) {
	const retention = 4 * time.Second
	const total = 10

	base := time.Unix(1000, 0)
	now := base
	b := NewBuffer(retention)
	b.now = func() time.Time { return now }

	for i := 0; i < total; i++ {
		now = base.Add(time.Duration(i+1) * time.Second)
		b.Append(mediaSegment(byte(i)))
	}

	if b.Len() != 4 {
		t.Fatalf("retained %d segments, want 4", b.Len())
	}

	got := b.GetLast(retention)
	var want bytes.Buffer
	for i := total - 4; i < total; i++ {
		want.Write(mediaSegment(byte(i)).Bytes())
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("GetLast returned wrong window:\n got %x\nwant %x", got, want.Bytes())
	}
}

// The gauge follows the retained count through appends, pruning, and close.
func TestBuffer_GaugeTracksRetainedSegments(t *testing.T) {
	const retention = 4 * time.Second

	base := time.Unix(1000, 0)
	now := base
	b := NewBuffer(retention)
	b.now = func() time.Time { return now }
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_timeshift_segments"})
	b.gauge = g

	for i := 0; i < 10; i++ {
		now = base.Add(time.Duration(i+1) * time.Second)
		b.Append(mediaSegment(byte(i)))
	}
	if got := testutil.ToFloat64(g); got != float64(b.Len()) {
		t.Fatalf("gauge = %v, want retained count %d", got, b.Len())
	}

	b.Close()
	if got := testutil.ToFloat64(g); got != 0 {
		t.Fatalf("gauge = %v after close, want 0", got)
	}
}

func TestBuffer_GetLastEmpty(t *testing.T) {
	b := NewBuffer(time.Minute)
	if got := b.GetLast(time.Minute); got != nil {
		t.Errorf("GetLast on empty buffer = %x, want nil", got)
	}
}

func TestBuffer_FanOut(t *testing.T) {
	b := NewBuffer(time.Minute)
	c1 := b.Acquire()
	c2 := b.Acquire()

	b.Append(mediaSegment(1))
	b.Append(mediaSegment(2))

	for _, c := range []*Consumer{c1, c2} {
		for want := byte(1); want <= 2; want++ {
			select {
			case seg := <-c.Segments():
				if seg.Boxes[0].Payload[0] != want {
					t.Errorf("got segment %d, want %d", seg.Boxes[0].Payload[0], want)
				}
			case <-time.After(time.Second):
				t.Fatal("consumer did not receive segment")
			}
		}
	}
}

func TestBuffer_LateJoinerGetsNoHistory(t *testing.T) {
	b := NewBuffer(time.Minute)
	b.Append(mediaSegment(1))

	late := b.Acquire()
	b.Append(mediaSegment(2))
	b.Close()

	var got []byte
	for seg := range late.Segments() {
		got = append(got, seg.Boxes[0].Payload[0])
	}
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("late joiner received %v, want only segment 2", got)
	}
}

func TestBuffer_CloseEndsConsumers(t *testing.T) {
	b := NewBuffer(time.Minute)
	c := b.Acquire()
	b.Close()

	select {
	case _, ok := <-c.Segments():
		if ok {
			t.Error("expected closed channel, got a segment")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}

	// Appending after close must be a no-op.
	b.Append(mediaSegment(9))
	if b.Len() != 0 {
		t.Error("segments retained after close")
	}
}

func TestBuffer_ConsumerCloseDetaches(t *testing.T) {
	b := NewBuffer(time.Minute)
	c := b.Acquire()
	c.Close()
	c.Close() // idempotent

	b.Append(mediaSegment(1))

	if _, ok := <-c.Segments(); ok {
		t.Error("detached consumer still receives segments")
	}
}

func TestBuffer_InitSegmentSeparate(t *testing.T) {
	b := NewBuffer(time.Minute)
	if b.Init() != nil {
		t.Fatal("init should start nil")
	}

	init := mp4.Segment{Boxes: []mp4.Box{
		{Length: 8, Type: "ftyp"},
		{Length: 8, Type: "moov"},
	}}
	b.SetInit(init)

	got := b.Init()
	if got == nil || !got.IsInit() {
		t.Fatalf("Init() = %+v, want the init segment", got)
	}
	if b.Len() != 0 {
		t.Error("init segment should not occupy the rolling window")
	}
}
