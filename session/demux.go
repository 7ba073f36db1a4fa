package session

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// rtcpPTLow..rtcpPTHigh is the RTCP packet-type range (SR, RR, SDES, BYE,
// APP). The client multiplexes RTP and RTCP onto one socket; the second byte
// tells them apart.
const (
	rtcpPTLow  = 200
	rtcpPTHigh = 204
)

// Demuxer splits the combined RTP/RTCP socket the client uses for return
// audio. RTP payloads are forwarded for the talkback process; RTCP is
// consumed for liveness only.
type Demuxer struct {
	log  zerolog.Logger
	conn *net.UDPConn

	firstOnce sync.Once
	first     chan struct{}

	packets chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDemuxer binds the local return-audio port and starts reading.
func NewDemuxer(log zerolog.Logger, port int) (*Demuxer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind return-audio port %d: %w", port, err)
	}

	d := &Demuxer{
		log:     log.With().Str("component", "rtp-demux").Int("port", port).Logger(),
		conn:    conn,
		first:   make(chan struct{}),
		packets: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

// FirstPacket is closed when the first inbound RTP packet arrives. The
// return-audio process is only launched at that point, to avoid wasted work
// when the client never sends audio.
func (d *Demuxer) FirstPacket() <-chan struct{} {
	return d.first
}

// Packets delivers raw inbound RTP packets. Packets arriving while the
// consumer lags are dropped; return audio is best-effort.
func (d *Demuxer) Packets() <-chan []byte {
	return d.packets
}

// Close stops the demuxer and releases its socket.
func (d *Demuxer) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.conn.Close()
	})
}

func (d *Demuxer) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.log.Debug().Err(err).Msg("return-audio socket read failed")
			}
			return
		}
		if n < 2 {
			continue
		}

		if pt := buf[1]; pt >= rtcpPTLow && pt <= rtcpPTHigh {
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			d.log.Debug().Err(err).Msg("dropping unparsable RTP packet")
			continue
		}

		d.firstOnce.Do(func() {
			d.log.Debug().Uint32("ssrc", pkt.SSRC).Msg("first return-audio packet")
			close(d.first)
		})

		out := make([]byte, n)
		copy(out, buf[:n])
		select {
		case d.packets <- out:
		case <-d.closed:
			return
		default:
			// consumer lagging, drop
		}
	}
}
