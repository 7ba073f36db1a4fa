package camera

import (
	"fmt"
	"net"
	"sync"

	"github.com/brutella/hc/rtp"
	"github.com/r3labs/diff"
	"github.com/rs/zerolog"

	"github.com/camkit/protect-stream/device"
	"github.com/camkit/protect-stream/ffmpeg"
	"github.com/camkit/protect-stream/metrics"
	"github.com/camkit/protect-stream/session"
	"github.com/camkit/protect-stream/timeshift"
)

type streamState int

const (
	stateStreaming streamState = iota
	stateStopped
)

// streamSession is the live half of one negotiated session: the processes
// and source references that exist between start and stop.
type streamSession struct {
	id   string
	desc *session.Descriptor

	proc        *ffmpeg.Process
	returnAudio *ffmpeg.Process
	consumer    *timeshift.Consumer

	bufferKey  timeshift.Key
	bufferHeld bool
	flashlight bool

	mu    sync.Mutex
	state streamState
}

// Orchestrator runs the streaming lifecycle for one device: it prepares
// sessions through the negotiator, picks sources, launches and supervises
// transcoder processes, and tears everything down exactly once per session.
type Orchestrator struct {
	log     zerolog.Logger
	opts    Options
	dev     *device.Device
	ctrl    device.Controller
	neg     *session.Negotiator
	buffers *timeshift.Registry
	metrics *metrics.Metrics
	probe   *probeControl

	mu       sync.Mutex
	sessions map[string]*streamSession
}

func NewOrchestrator(log zerolog.Logger, opts Options, dev *device.Device, ctrl device.Controller, neg *session.Negotiator, buffers *timeshift.Registry, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		log:      log.With().Str("component", "orchestrator").Str("device", dev.Name).Logger(),
		opts:     opts,
		dev:      dev,
		ctrl:     ctrl,
		neg:      neg,
		buffers:  buffers,
		metrics:  m,
		probe:    newProbeControl(),
		sessions: make(map[string]*streamSession),
	}
}

// Prepare runs the resource-reservation phase for a new session. No process
// is started here; the transcoder launches in StartStream once the client
// commits to parameters.
func (o *Orchestrator) Prepare(localIP string, req rtp.SetupEndpoints) (rtp.SetupEndpointsResponse, error) {
	return o.neg.Prepare(o.dev, localIP, req)
}

// StartStream launches the transcoder for a prepared session. The source is
// an already-running timeshift feed when one exists for the device,
// otherwise a fresh RTSP connection.
func (o *Orchestrator) StartStream(sessionID string, req StartRequest) error {
	desc := o.neg.Get(sessionID)
	if desc == nil {
		return fmt.Errorf("start: unknown session %q", sessionID)
	}
	if !o.dev.IsOnline() {
		return fmt.Errorf("start: device %s is offline", o.dev.Name)
	}

	o.mu.Lock()
	if _, exists := o.sessions[sessionID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("start: session %q already streaming", sessionID)
	}
	ss := &streamSession{id: sessionID, desc: desc}
	o.sessions[sessionID] = ss
	o.mu.Unlock()

	log := o.log.With().Str("session", sessionID).Logger()

	// The copy-path candidate tells us the source codec; if that codec (or
	// configuration) forces transcoding, reselect for quality instead.
	sourceCodec := o.opts.NativeCodec
	if candidate := selectProfile(o.dev, req, false); candidate != nil {
		sourceCodec = candidate.Codec
	}
	dec := decideTranscode(o.opts, req, sourceCodec)
	profile := selectProfile(o.dev, req, dec.transcode)
	if profile == nil {
		o.forget(sessionID)
		return fmt.Errorf("start: device %s offers no stream profiles", o.dev.Name)
	}
	bitrate := clampBitrate(req.Video.MaxBitrate, profile.Bitrate)

	if dec.transcode {
		log.Info().Str("reason", dec.reason).Str("profile", profile.Channel).Msg("transcoding")
	} else {
		log.Info().Str("profile", profile.Channel).Msg("stream copy")
	}

	in, buf, err := o.selectSource(ss, profile)
	if err != nil {
		o.forget(sessionID)
		return fmt.Errorf("start: %w", err)
	}

	args := streamArgs(o.opts, desc, req, in, dec, bitrate)
	ss.proc = ffmpeg.New(log, o.opts.FFmpegPath, args, func(st ffmpeg.ExitStatus) {
		o.onStreamExit(log, sessionID, in.piped(), st)
	})
	if err := ss.proc.Start(); err != nil {
		o.releaseSource(ss)
		o.forget(sessionID)
		return fmt.Errorf("start transcoder: %w", err)
	}

	if in.piped() {
		o.feedFromBuffer(ss, buf)
	}

	if o.dev.Hints().Flashlight {
		// Toggle under the session lock: a process that dies instantly runs
		// StopStream concurrently, and the reversal must see the flag.
		ss.mu.Lock()
		if ss.state != stateStopped {
			if err := o.ctrl.SetFlashlight(o.dev.ID, true); err != nil {
				log.Warn().Err(err).Msg("flashlight on failed")
			} else {
				ss.flashlight = true
			}
		}
		ss.mu.Unlock()
	}

	if desc.TwoWayAudio {
		go o.awaitReturnAudio(log, ss)
	}

	o.metrics.ActiveSessions.Inc()
	o.metrics.SessionsStarted.Inc()
	log.Info().Uint("width", req.Video.Width).Uint("bitrate", bitrate).Msg("stream started")
	return nil
}

// selectSource decides where the transcoder reads from. A running timeshift
// feed is reused to avoid a second connection to the camera; otherwise the
// selected profile's channel is enabled and its RTSP address used directly.
func (o *Orchestrator) selectSource(ss *streamSession, profile *device.StreamProfile) (inputSpec, *timeshift.Buffer, error) {
	if key, buf, ok := o.buffers.AcquireActive(o.dev.ID); ok {
		ss.bufferKey = key
		ss.bufferHeld = true
		return inputSpec{probeSize: o.probe.size()}, buf, nil
	}

	if err := o.ctrl.EnableSourceChannel(o.dev.ID, profile.Channel); err != nil {
		return inputSpec{}, nil, fmt.Errorf("enable channel %s: %w", profile.Channel, err)
	}
	return inputSpec{rtspURL: profile.URL}, nil, nil
}

// feedFromBuffer seeds the transcoder's stdin with the initialization
// segment and the retained window, then streams new segments as they arrive.
// No historical segment is replayed to a consumer that joins later; the
// window write here is the one-time seed.
func (o *Orchestrator) feedFromBuffer(ss *streamSession, buf *timeshift.Buffer) {
	if init := buf.Init(); init != nil {
		ss.proc.Write(init.Bytes())
	}
	if window := buf.GetLast(o.opts.Retention); window != nil {
		ss.proc.Write(window)
	}

	consumer := buf.Acquire()
	ss.mu.Lock()
	if ss.state == stateStopped {
		ss.mu.Unlock()
		consumer.Close()
		return
	}
	ss.consumer = consumer
	ss.mu.Unlock()

	go func() {
		for seg := range consumer.Segments() {
			ss.proc.Write(seg.Bytes())
		}
		ss.proc.CloseInput()
	}()
}

// awaitReturnAudio launches the return-audio process lazily: nothing runs
// until the client actually sends a packet on the negotiated audio socket.
func (o *Orchestrator) awaitReturnAudio(log zerolog.Logger, ss *streamSession) {
	select {
	case <-ss.desc.Demux.FirstPacket():
	case <-ss.proc.Exited():
		return
	}

	desc := ss.desc
	proc := ffmpeg.New(log, o.opts.FFmpegPath, returnAudioArgs(desc.TalkbackURL), func(st ffmpeg.ExitStatus) {
		o.metrics.ProcessExits.WithLabelValues(st.Disposition.String()).Inc()
		if st.Disposition == ffmpeg.ExitAbnormal {
			log.Error().Int("code", st.Code).Strs("diagnostics", st.Diagnostics).Msg("return-audio exited abnormally")
		}
	})
	if err := proc.Start(); err != nil {
		log.Warn().Err(err).Msg("return-audio start failed")
		return
	}

	ss.mu.Lock()
	if ss.state == stateStopped {
		ss.mu.Unlock()
		proc.Stop()
		return
	}
	ss.returnAudio = proc
	ss.mu.Unlock()

	proc.Write([]byte(returnAudioSDP(desc.ReturnAudioPort, rtpPayloadTypeOpus)))
	proc.CloseInput()
	go o.forwardReturnAudio(log, ss, proc)
	log.Info().Msg("return audio started")
}

const rtpPayloadTypeOpus = 110

// forwardReturnAudio relays demultiplexed RTP from the client's audio socket
// to the local port the return-audio process listens on per its SDP.
func (o *Orchestrator) forwardReturnAudio(log zerolog.Logger, ss *streamSession, proc *ffmpeg.Process) {
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", ss.desc.ReturnAudioPort))
	if err != nil {
		log.Warn().Err(err).Msg("return-audio relay unavailable")
		return
	}
	defer conn.Close()

	for {
		select {
		case pkt, ok := <-ss.desc.Demux.Packets():
			if !ok {
				return
			}
			if _, err := conn.Write(pkt); err != nil {
				return
			}
		case <-proc.Exited():
			return
		}
	}
}

// onStreamExit reports the transcoder's end and tears the session down when
// the exit was not requested. Some abnormal exits only reflect the source
// ending and are reported at a lower severity.
func (o *Orchestrator) onStreamExit(log zerolog.Logger, sessionID string, piped bool, st ffmpeg.ExitStatus) {
	o.metrics.ProcessExits.WithLabelValues(st.Disposition.String()).Inc()

	switch st.Disposition {
	case ffmpeg.ExitAbnormal:
		if benignExit(st.Diagnostics) {
			log.Info().Int("code", st.Code).Msg("transcoder stopped with source end")
		} else {
			log.Error().Int("code", st.Code).Str("signal", st.Signal).Strs("diagnostics", st.Diagnostics).Msg("transcoder exited abnormally")
			if piped {
				o.probe.recordFailure()
			}
		}
	case ffmpeg.ExitNormal:
		log.Debug().Msg("transcoder exited")
	}

	o.StopStream(sessionID)
}

// StopStream tears down one session. Safe to call repeatedly and from any
// goroutine; every release happens exactly once.
func (o *Orchestrator) StopStream(sessionID string) {
	o.mu.Lock()
	ss := o.sessions[sessionID]
	o.mu.Unlock()
	if ss == nil {
		// Session was never started (or already fully stopped); the
		// negotiator teardown is still idempotent on its own.
		o.neg.Teardown(sessionID)
		return
	}

	ss.mu.Lock()
	if ss.state == stateStopped {
		ss.mu.Unlock()
		return
	}
	ss.state = stateStopped
	returnAudio := ss.returnAudio
	consumer := ss.consumer
	flashlight := ss.flashlight
	ss.mu.Unlock()

	if consumer != nil {
		consumer.Close()
	}
	if ss.proc != nil {
		ss.proc.Stop()
	}
	if returnAudio != nil {
		returnAudio.Stop()
	}

	o.releaseSource(ss)

	if flashlight {
		if err := o.ctrl.SetFlashlight(o.dev.ID, false); err != nil {
			o.log.Warn().Err(err).Msg("flashlight off failed")
		}
	}

	o.neg.Teardown(sessionID)
	o.forget(sessionID)

	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionsStopped.Inc()
	o.log.Info().Str("session", sessionID).Msg("stream stopped")
}

func (o *Orchestrator) releaseSource(ss *streamSession) {
	if ss.bufferHeld {
		ss.bufferHeld = false
		o.buffers.Release(ss.bufferKey)
	}
}

func (o *Orchestrator) forget(sessionID string) {
	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()
}

// ActiveSessions reports how many sessions are currently streaming.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Reconfigure swaps the orchestrator's options and logs the field-level
// differences. Running sessions keep the options they started with.
func (o *Orchestrator) Reconfigure(opts Options) {
	changes, err := diff.Diff(o.opts, opts)
	if err != nil {
		o.log.Warn().Err(err).Msg("options diff failed")
	}
	for _, c := range changes {
		o.log.Info().Strs("field", c.Path).Interface("from", c.From).Interface("to", c.To).Msg("option changed")
	}
	o.opts = opts
}

// Shutdown stops every session this orchestrator runs.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.StopStream(id)
	}
}
