// Package camera orchestrates streaming and recording sessions for one
// device: source selection, transcode-versus-copy decisions, transcoder
// argument construction, and session teardown.
package camera

import (
	"time"

	"github.com/brutella/hc/rtp"

	"github.com/camkit/protect-stream/hsv"
)

// EncoderProfile selects the hardware path the transcoder uses.
type EncoderProfile int

const (
	CPU EncoderProfile = iota
	VAAPI
	QSV
)

func (e EncoderProfile) String() string {
	switch e {
	case VAAPI:
		return "vaapi"
	case QSV:
		return "qsv"
	default:
		return "cpu"
	}
}

// Options configures the orchestrator for one device.
type Options struct {
	// FFmpegPath locates the transcoder executable.
	FFmpegPath string
	// Encoder selects the hardware encoder path when transcoding.
	Encoder EncoderProfile
	// ForceTranscode disables the stream-copy fast path.
	ForceTranscode bool
	// CropFilter, when set, is a video filter expression that implies
	// transcoding.
	CropFilter string
	// HighLatencyTranscode enables transcoding for high-latency clients
	// (requested audio packet time at or above 60 ms).
	HighLatencyTranscode bool
	// NativeCodec is the codec the protocol expects without transcoding.
	NativeCodec string
	// Retention caps the timeshift rolling window. Defaults to twice the
	// source keyframe interval.
	Retention time.Duration
}

// highLatencyPacketTimeMs is the audio packet duration at which a connection
// is heuristically treated as high-latency.
const highLatencyPacketTimeMs = 60

// VideoParams is the video half of a start request.
type VideoParams struct {
	Width       uint
	Height      uint
	FPS         uint
	MaxBitrate  uint // kbps
	PayloadType uint8
	ProfileID   byte
	Level       byte
}

// AudioParams is the audio half of a start request.
type AudioParams struct {
	PayloadType   uint8
	MaxBitrate    uint // kbps
	SampleRateKHz uint
	PacketTimeMs  uint
}

// StartRequest carries the parameters the protocol layer negotiated for the
// start phase of a session.
type StartRequest struct {
	Video VideoParams
	Audio AudioParams
}

func videoProfileName(profileID byte, encoder EncoderProfile) string {
	switch profileID {
	case rtp.VideoCodecProfileConstrainedBaseline:
		if encoder == VAAPI {
			return "constrained_baseline"
		}
		return "baseline"
	case rtp.VideoCodecProfileMain:
		return "main"
	default:
		return "high"
	}
}

func videoLevelName(level byte) string {
	switch level {
	case rtp.VideoCodecLevel3_1:
		return "3.1"
	case rtp.VideoCodecLevel3_2:
		return "3.2"
	default:
		return "4"
	}
}

// videoMTU picks the SRTP packet size for the client's address family.
func videoMTU(ipv6 bool) int {
	if ipv6 {
		return 1228
	}
	return 1378
}

func recordingSampleRate(params hsv.AudioCodecParameters) int {
	if len(params.SampleRates) == 0 {
		return 8000
	}
	switch params.SampleRates[0] {
	case hsv.AudioRecordingSampleRate16Khz:
		return 16000
	case hsv.AudioRecordingSampleRate24Khz:
		return 24000
	case hsv.AudioRecordingSampleRate32Khz:
		return 32000
	case hsv.AudioRecordingSampleRate44Khz:
		return 44100
	case hsv.AudioRecordingSampleRate48Khz:
		return 48000
	default:
		return 8000
	}
}
