package timeshift

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/camkit/protect-stream/mp4"
)

// Key identifies one buffered stream: a camera and the profile channel
// backing it.
type Key struct {
	DeviceID string
	Channel  string
}

// Registry owns the timeshift buffers, keyed explicitly by camera+profile so
// ownership and reference counts are inspectable. One underlying live
// connection is shared across all consumers of the same key; it is torn down
// only when the acquire count drops to zero and the key is not backing
// active recording.
type Registry struct {
	log    zerolog.Logger
	opener Opener
	gauge  prometheus.Gauge

	mu    sync.Mutex
	feeds map[Key]*feed
}

type feed struct {
	buffer    *Buffer
	stream    MessageStream
	refs      int
	recording bool
}

// NewRegistry wires the livestream opener.
func NewRegistry(log zerolog.Logger, opener Opener) *Registry {
	return &Registry{
		log:    log.With().Str("component", "timeshift").Logger(),
		opener: opener,
		feeds:  make(map[Key]*feed),
	}
}

// SetSegmentsGauge mirrors the total retained segment count across all
// buffers into a metric. Set it before the first Acquire.
func (r *Registry) SetSegmentsGauge(g prometheus.Gauge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge = g
}

// Acquire returns the buffer for key, starting the shared live connection on
// first use, and increments the acquire count. url locates the livestream
// for the key's profile; retention caps the rolling window.
func (r *Registry) Acquire(key Key, url string, retention time.Duration) (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.feeds[key]; ok {
		f.refs++
		return f.buffer, nil
	}

	stream, err := r.opener.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open live source: %w", err)
	}

	buffer := NewBuffer(retention)
	buffer.gauge = r.gauge
	f := &feed{
		buffer: buffer,
		stream: stream,
		refs:   1,
	}
	r.feeds[key] = f

	r.log.Info().Str("device", key.DeviceID).Str("channel", key.Channel).
		Dur("retention", retention).Msg("timeshift buffer started")

	go r.pump(key, f)
	return f.buffer, nil
}

// Release decrements the acquire count, tearing the shared connection down
// when nothing holds the buffer and it is not the active recording stream.
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	f, ok := r.feeds[key]
	if ok && f.refs > 0 {
		f.refs--
	}
	teardown := ok && f.refs == 0 && !f.recording
	if teardown {
		delete(r.feeds, key)
	}
	r.mu.Unlock()

	if teardown {
		r.stop(key, f)
	}
}

// SetRecording marks or unmarks key as the stream backing active recording.
// Clearing the mark tears the buffer down if no consumer holds it.
func (r *Registry) SetRecording(key Key, recording bool) {
	r.mu.Lock()
	f, ok := r.feeds[key]
	if ok {
		f.recording = recording
	}
	teardown := ok && !recording && f.refs == 0
	if teardown {
		delete(r.feeds, key)
	}
	r.mu.Unlock()

	if teardown {
		r.stop(key, f)
	}
}

// Active returns the live buffer for a device if any profile of it is
// currently buffered. The orchestrator prefers this over re-establishing a
// source connection.
func (r *Registry) Active(deviceID string) (Key, *Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, f := range r.feeds {
		if key.DeviceID == deviceID {
			return key, f.buffer, true
		}
	}
	return Key{}, nil, false
}

// AcquireActive is Active plus a reference: if a buffer exists for the
// device, its acquire count is incremented and the caller owes a Release.
func (r *Registry) AcquireActive(deviceID string) (Key, *Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, f := range r.feeds {
		if key.DeviceID == deviceID {
			f.refs++
			return key, f.buffer, true
		}
	}
	return Key{}, nil, false
}

// Shutdown tears down every feed regardless of reference counts.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	feeds := r.feeds
	r.feeds = make(map[Key]*feed)
	r.mu.Unlock()

	for key, f := range feeds {
		r.stop(key, f)
	}
}

func (r *Registry) stop(key Key, f *feed) {
	f.stream.Close()
	f.buffer.Close()
	r.log.Info().Str("device", key.DeviceID).Str("channel", key.Channel).Msg("timeshift buffer stopped")
}

// pump drives bytes from the live connection through the box parser and
// segment assembler into the buffer. Both halves run until the source ends
// or the stream turns out malformed.
func (r *Registry) pump(key Key, f *feed) {
	asm := mp4.NewAssembler(8)
	parser := mp4.NewParser(asm.Add)

	var g errgroup.Group
	g.Go(func() error {
		defer asm.Close()
		for {
			data, err := f.stream.Next()
			if err != nil {
				// Source closed; the reader's job is done.
				return nil
			}
			if err := parser.Feed(data); err != nil {
				return fmt.Errorf("device %s: %w", key.DeviceID, err)
			}
		}
	})
	g.Go(func() error {
		for seg := range asm.Segments() {
			if seg.IsInit() {
				f.buffer.SetInit(seg)
				continue
			}
			f.buffer.Append(seg)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		r.log.Error().Err(err).Msg("malformed live stream, stopping buffer")
	}

	// The feed can no longer produce segments; deregister it so Acquire and
	// AcquireActive stop steering new sessions to a dead buffer. The entry
	// may already be gone if Release tore it down first.
	r.mu.Lock()
	if cur, ok := r.feeds[key]; ok && cur == f {
		delete(r.feeds, key)
	}
	r.mu.Unlock()

	f.stream.Close()
	f.buffer.Close()
	r.log.Info().Str("device", key.DeviceID).Str("channel", key.Channel).Msg("live source ended")
}
