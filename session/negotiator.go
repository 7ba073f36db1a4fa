package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/brutella/hc/rtp"
	"github.com/rs/zerolog"

	"github.com/camkit/protect-stream/device"
)

// Descriptor is one negotiated client connection. Created during prepare,
// consumed during start, never shared across sessions.
type Descriptor struct {
	ID       string
	DeviceID string

	ClientAddr string
	IPv6       bool

	// ClientVideoPort and ClientAudioPort are where the client listens for
	// outbound media, as submitted in the setup request. The server's own
	// allocations below are only for return traffic.
	ClientVideoPort int
	ClientAudioPort int

	VideoPort       int
	AudioPort       int
	ReturnAudioPort int

	VideoSSRC uint32
	AudioSSRC uint32

	VideoCrypto rtp.CryptoSuite
	AudioCrypto rtp.CryptoSuite

	// TwoWayAudio is set when return audio was fully negotiated, including
	// the talkback channel. Demux splits the client's combined RTP/RTCP
	// audio socket; ReturnAudioPort is the local port the return-audio
	// process reads forwarded RTP from.
	TwoWayAudio bool
	TalkbackURL string
	Demux       *Demuxer

	reserved []int
	released bool
}

// Negotiator handles the prepare phase of session setup: it reserves local
// resources and answers with connection parameters without starting any
// process.
type Negotiator struct {
	log   zerolog.Logger
	ports *PortAllocator
	ctrl  device.Controller

	// audioEncoder reports whether a usable return-audio encoder is
	// available on this host.
	audioEncoder bool

	mu       sync.Mutex
	sessions map[string]*Descriptor
}

// NewNegotiator wires the allocator and controller client.
func NewNegotiator(log zerolog.Logger, ports *PortAllocator, ctrl device.Controller, audioEncoder bool) *Negotiator {
	return &Negotiator{
		log:          log.With().Str("component", "negotiator").Logger(),
		ports:        ports,
		ctrl:         ctrl,
		audioEncoder: audioEncoder,
		sessions:     make(map[string]*Descriptor),
	}
}

// Prepare reserves ports and identifiers for the session identified by the
// request's session token and returns the response the client needs to
// direct its return traffic. The response always carries the locally
// allocated ports and freshly generated SSRCs, never the client-submitted
// ones: the server dictates where it receives return traffic.
//
// Port reservation is sequential; the first failure aborts the remaining
// reservations but already-reserved ports stay held until Teardown, keeping
// the bookkeeping uniform.
func (n *Negotiator) Prepare(dev *device.Device, localIP string, req rtp.SetupEndpoints) (rtp.SetupEndpointsResponse, error) {
	desc := &Descriptor{
		ID:              string(req.SessionId),
		DeviceID:        dev.ID,
		ClientAddr:      req.ControllerAddr.IPAddr,
		IPv6:            req.ControllerAddr.IPVersion != rtp.IPAddrVersionv4,
		ClientVideoPort: int(req.ControllerAddr.VideoRtpPort),
		ClientAudioPort: int(req.ControllerAddr.AudioRtpPort),
		VideoSSRC:       randomSSRC(),
		AudioSSRC:       randomSSRC(),
		VideoCrypto:     req.Video,
		AudioCrypto:     req.Audio,
	}

	n.mu.Lock()
	n.sessions[desc.ID] = desc
	n.mu.Unlock()

	log := n.log.With().Str("session", desc.ID).Str("device", dev.Name).Logger()

	var err error
	if desc.VideoPort, err = n.reserve(desc); err != nil {
		return errorResponse(req), fmt.Errorf("video port: %w", err)
	}
	if desc.AudioPort, err = n.reserve(desc); err != nil {
		return errorResponse(req), fmt.Errorf("audio port: %w", err)
	}

	if n.wantTwoWayAudio(dev) {
		if desc.ReturnAudioPort, err = n.reserve(desc); err != nil {
			return errorResponse(req), fmt.Errorf("return-audio port: %w", err)
		}
		n.setupTalkback(log, dev, desc)
	}

	log.Info().
		Int("video_port", desc.VideoPort).
		Int("audio_port", desc.AudioPort).
		Bool("two_way", desc.TwoWayAudio).
		Msg("session prepared")

	return rtp.SetupEndpointsResponse{
		SessionId: req.SessionId,
		Status:    rtp.SessionStatusSuccess,
		AccessoryAddr: rtp.Addr{
			IPVersion:    req.ControllerAddr.IPVersion,
			IPAddr:       localIP,
			VideoRtpPort: uint16(desc.VideoPort),
			AudioRtpPort: uint16(desc.AudioPort),
		},
		Video:     req.Video,
		Audio:     req.Audio,
		SsrcVideo: int32(desc.VideoSSRC),
		SsrcAudio: int32(desc.AudioSSRC),
	}, nil
}

// wantTwoWayAudio gates return audio on the device's microphone, the two-way
// capability, and a usable audio encoder.
func (n *Negotiator) wantTwoWayAudio(dev *device.Device) bool {
	return dev.Caps.HasMicrophone && dev.Caps.TwoWayAudio && n.audioEncoder
}

// setupTalkback creates the return-audio demultiplexer and asks the
// controller for the talkback channel. Failure here is logged but does not
// abort setup: the session deliberately proceeds video-only, favoring
// availability of video over feature completeness.
func (n *Negotiator) setupTalkback(log zerolog.Logger, dev *device.Device, desc *Descriptor) {
	demux, err := NewDemuxer(log, desc.AudioPort)
	if err != nil {
		log.Warn().Err(err).Msg("return-audio demuxer unavailable, continuing video-only")
		return
	}

	url, err := n.ctrl.TalkbackEndpoint(dev.ID)
	if err != nil {
		log.Warn().Err(err).Msg("talkback channel unavailable, continuing video-only")
		demux.Close()
		return
	}

	desc.Demux = demux
	desc.TalkbackURL = url
	desc.TwoWayAudio = true
}

func (n *Negotiator) reserve(desc *Descriptor) (int, error) {
	port, err := n.ports.Reserve()
	if err != nil {
		return 0, err
	}
	desc.reserved = append(desc.reserved, port)
	return port, nil
}

// Get returns the descriptor for a session token, or nil.
func (n *Negotiator) Get(sessionID string) *Descriptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[sessionID]
}

// Teardown releases every resource the session holds, exactly once. Calling
// it again, or for an unknown session, is a no-op.
func (n *Negotiator) Teardown(sessionID string) {
	n.mu.Lock()
	desc := n.sessions[sessionID]
	if desc == nil || desc.released {
		n.mu.Unlock()
		return
	}
	desc.released = true
	delete(n.sessions, sessionID)
	n.mu.Unlock()

	if desc.Demux != nil {
		desc.Demux.Close()
	}
	for _, port := range desc.reserved {
		n.ports.Release(port)
	}

	n.log.Debug().Str("session", sessionID).Ints("ports", desc.reserved).Msg("session resources released")
}

func errorResponse(req rtp.SetupEndpoints) rtp.SetupEndpointsResponse {
	return rtp.SetupEndpointsResponse{
		SessionId: req.SessionId,
		Status:    rtp.SessionStatusError,
	}
}

// randomSSRC keeps the high bit clear so the value survives the signed
// int32 in the endpoint response and ffmpeg's -ssrc flag unchanged.
func randomSSRC() uint32 {
	var b [4]byte
	rand.Read(b[:]) //nolint:errcheck
	return binary.BigEndian.Uint32(b[:]) & 0x7fffffff
}
