package camera

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/protect-stream/device"
	"github.com/camkit/protect-stream/ffmpeg"
	"github.com/camkit/protect-stream/hsv"
	"github.com/camkit/protect-stream/mp4"
	"github.com/camkit/protect-stream/timeshift"
)

// defaultRetention bounds the timeshift window when no retention is
// configured; secure-video prebuffer requests stay below this.
const defaultRetention = 8 * time.Second

func (o *Orchestrator) retention() time.Duration {
	if o.opts.Retention > 0 {
		return o.opts.Retention
	}
	return defaultRetention
}

// EnableTimeshift starts the rolling buffer for this device so that a
// recording session can begin with prebuffered footage. The feed stays alive
// until DisableTimeshift even with no consumers attached.
func (o *Orchestrator) EnableTimeshift() error {
	profile := device.SelectHighest(o.dev.Profiles)
	if profile == nil {
		return fmt.Errorf("timeshift: device %s offers no stream profiles", o.dev.Name)
	}
	url := profile.LiveURL
	if url == "" {
		url = profile.URL
	}
	key := timeshift.Key{DeviceID: o.dev.ID, Channel: profile.Channel}
	if _, err := o.buffers.Acquire(key, url, o.retention()); err != nil {
		return fmt.Errorf("timeshift: %w", err)
	}
	o.buffers.SetRecording(key, true)
	o.log.Info().Str("channel", profile.Channel).Dur("retention", o.retention()).Msg("timeshift enabled")
	return nil
}

// DisableTimeshift drops the recording hold on the device's feed. The feed
// ends once no live session references it either.
func (o *Orchestrator) DisableTimeshift() {
	key, _, ok := o.buffers.Active(o.dev.ID)
	if !ok {
		return
	}
	o.buffers.SetRecording(key, false)
	o.buffers.Release(key)
	o.log.Info().Msg("timeshift disabled")
}

// RecordingSession is one secure-video recording run: a transcoder emitting
// fragmented MP4 that is parsed and grouped into segments the caller pulls
// from Segments. The session ends only on an explicit Close, independent of
// the process's own exit.
type RecordingSession struct {
	log  zerolog.Logger
	orch *Orchestrator

	proc     *ffmpeg.Process
	asm      *mp4.Assembler
	consumer *timeshift.Consumer

	bufferKey  timeshift.Key
	bufferHeld bool

	out  chan mp4.Segment
	done chan struct{}

	closeOnce sync.Once
}

// StartRecording launches a recording session with the selected secure-video
// configuration. When a timeshift feed is running the session starts with
// the retained prebuffer; otherwise it records from a fresh RTSP connection
// and has no past footage to offer.
func (o *Orchestrator) StartRecording(recCfg hsv.SelectedCameraRecordingConfiguration) (*RecordingSession, error) {
	log := o.log.With().Str("component", "recorder").Logger()

	rs := &RecordingSession{
		log:  log,
		orch: o,
		asm:  mp4.NewAssembler(16),
		out:  make(chan mp4.Segment, 16),
		done: make(chan struct{}),
	}

	var in inputSpec
	var buf *timeshift.Buffer
	if key, b, ok := o.buffers.AcquireActive(o.dev.ID); ok {
		rs.bufferKey = key
		rs.bufferHeld = true
		buf = b
		in = inputSpec{probeSize: o.probe.size()}
	} else {
		profile := device.SelectHighest(o.dev.Profiles)
		if profile == nil {
			return nil, fmt.Errorf("recording: device %s offers no stream profiles", o.dev.Name)
		}
		if err := o.ctrl.EnableSourceChannel(o.dev.ID, profile.Channel); err != nil {
			return nil, fmt.Errorf("recording: enable channel %s: %w", profile.Channel, err)
		}
		in = inputSpec{rtspURL: profile.URL}
	}

	transcode := o.opts.ForceTranscode || o.opts.NativeCodec != "h264"
	args := recordArgs(o.opts, in, recCfg, transcode)
	rs.proc = ffmpeg.New(log, o.opts.FFmpegPath, args, func(st ffmpeg.ExitStatus) {
		o.metrics.ProcessExits.WithLabelValues(st.Disposition.String()).Inc()
		if st.Disposition == ffmpeg.ExitAbnormal && !benignExit(st.Diagnostics) {
			log.Error().Int("code", st.Code).Strs("diagnostics", st.Diagnostics).Msg("recorder exited abnormally")
			if in.piped() {
				o.probe.recordFailure()
			}
		}
	})
	if err := rs.proc.Start(); err != nil {
		rs.release()
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	if buf != nil {
		rs.seed(buf, prebufferWindow(recCfg, o.retention()))
	}

	go rs.parseOutput()
	go rs.pump()

	o.metrics.RecordingSessions.Inc()
	log.Info().Bool("prebuffered", buf != nil).Msg("recording started")
	return rs, nil
}

// prebufferWindow bounds the requested prebuffer length to what the buffer
// can actually retain.
func prebufferWindow(recCfg hsv.SelectedCameraRecordingConfiguration, retention time.Duration) time.Duration {
	window := time.Duration(recCfg.SelectedGeneralConfiguration.PrebufferLength) * time.Millisecond
	if window <= 0 || window > retention {
		return retention
	}
	return window
}

// seed primes the recorder's stdin with the initialization segment and the
// prebuffer window, then keeps feeding new segments as the buffer produces
// them.
func (rs *RecordingSession) seed(buf *timeshift.Buffer, window time.Duration) {
	if init := buf.Init(); init != nil {
		rs.proc.Write(init.Bytes())
	}
	if past := buf.GetLast(window); past != nil {
		rs.proc.Write(past)
	}

	rs.consumer = buf.Acquire()
	go func() {
		for seg := range rs.consumer.Segments() {
			rs.proc.Write(seg.Bytes())
		}
		rs.proc.CloseInput()
	}()
}

// parseOutput reads the recorder's fragmented-MP4 stdout into the assembler
// until the stream ends.
func (rs *RecordingSession) parseOutput() {
	parser := mp4.NewParser(rs.asm.Add)
	r := bufio.NewReaderSize(rs.proc.Stdout(), 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if perr := parser.Feed(chunk[:n]); perr != nil {
				rs.log.Error().Err(perr).Msg("recorder output unparseable")
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				rs.log.Debug().Err(err).Msg("recorder output ended")
			}
			break
		}
	}
	rs.asm.Close()
}

// pump moves assembled segments to the caller and keeps the counters
// current.
func (rs *RecordingSession) pump() {
	for seg := range rs.asm.Segments() {
		rs.orch.metrics.SegmentsAssembled.Inc()
		rs.orch.metrics.SegmentBytes.Add(float64(len(seg.Bytes())))
		select {
		case rs.out <- seg:
		case <-rs.done:
			// caller stopped pulling; discard the rest of the drain
		}
	}
	close(rs.out)
}

// Segments delivers assembled segments in arrival order. The first segment
// carries the initialization boxes; each following one is a complete
// fragment. The channel closes when the session ends.
func (rs *RecordingSession) Segments() <-chan mp4.Segment {
	return rs.out
}

// Close ends the recording session: the process is stopped, the assembler
// drained, and the source released. Always called explicitly by the
// recording protocol layer, never implied by process exit.
func (rs *RecordingSession) Close() {
	rs.closeOnce.Do(func() {
		close(rs.done)
		if rs.consumer != nil {
			rs.consumer.Close()
		}
		rs.proc.Stop()
		rs.asm.Cancel()
		rs.release()
		rs.orch.metrics.RecordingSessions.Dec()
		rs.log.Info().Msg("recording stopped")
	})
}

func (rs *RecordingSession) release() {
	if rs.bufferHeld {
		rs.bufferHeld = false
		rs.orch.buffers.Release(rs.bufferKey)
	}
}
