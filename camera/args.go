package camera

import (
	"fmt"

	"github.com/camkit/protect-stream/hsv"
	"github.com/camkit/protect-stream/session"
)

// inputSpec names the source a transcoder invocation reads from: a direct
// RTSP connection, or fMP4 piped in from the timeshift buffer / live API.
type inputSpec struct {
	rtspURL   string
	probeSize int64 // piped input only
}

func (in inputSpec) piped() bool {
	return in.rtspURL == ""
}

func (in inputSpec) args() []string {
	if in.piped() {
		return []string{
			"-f", "mp4",
			"-probesize", fmt.Sprintf("%d", in.probeSize),
			"-i", "pipe:0",
		}
	}
	return []string{
		"-rtsp_transport", "tcp",
		"-i", in.rtspURL,
	}
}

// streamArgs builds the argument vector for a live-view session: one video
// output and one audio output, both RTP over SRTP to the client's negotiated
// ports.
func streamArgs(opts Options, desc *session.Descriptor, req StartRequest, in inputSpec, dec transcodeDecision, bitrate uint) []string {
	var args []string

	args = append(args, "-hide_banner")
	if opts.Encoder == VAAPI && dec.transcode {
		args = append(args,
			"-vaapi_device", "/dev/dri/renderD128",
			"-hwaccel", "vaapi",
		)
	}
	args = append(args, in.args()...)

	args = append(args, "-map", "0:v:0")
	if !dec.transcode {
		args = append(args, "-c:v", "copy")
	} else {
		var encoder string
		var encoderOpts []string
		scale := fmt.Sprintf("scale=%d:-2", req.Video.Width)
		if opts.CropFilter != "" {
			scale = scale + "," + opts.CropFilter
		}
		switch opts.Encoder {
		case VAAPI:
			encoder = "h264_vaapi"
			encoderOpts = []string{
				"-vf", fmt.Sprintf("format=nv12|vaapi,hwupload,scale_vaapi=w=%d:h=-2", req.Video.Width),
				"-bf", "0",
			}
		case QSV:
			encoder = "h264_qsv"
			encoderOpts = []string{
				"-vf", scale,
				"-bf", "0",
			}
		default:
			encoder = "libx264"
			encoderOpts = []string{
				"-x264-params", "intra-refresh=1:bframes=0",
				"-vf", scale,
				"-preset", "veryfast",
			}
		}
		args = append(args,
			"-c:v", encoder,
			"-profile:v", videoProfileName(req.Video.ProfileID, opts.Encoder),
			"-level:v", videoLevelName(req.Video.Level),
			"-r", fmt.Sprintf("%d", req.Video.FPS),
		)
		args = append(args, encoderOpts...)
	}

	args = append(args,
		"-b:v", fmt.Sprintf("%dk", bitrate),
		"-bufsize", fmt.Sprintf("%dk", 2*bitrate),
		"-maxrate", fmt.Sprintf("%dk", bitrate),
		"-payload_type", fmt.Sprintf("%d", req.Video.PayloadType),
		"-ssrc", fmt.Sprintf("%d", desc.VideoSSRC),
		"-f", "rtp",
		"-srtp_out_suite", "AES_CM_128_HMAC_SHA1_80",
		"-srtp_out_params", desc.VideoCrypto.SrtpKey(),
		fmt.Sprintf("srtp://%s:%d?rtcpport=%d&pkt_size=%d",
			desc.ClientAddr, desc.ClientVideoPort, desc.ClientVideoPort, videoMTU(desc.IPv6)),
	)

	args = append(args,
		"-map", "0:a:0?",
		"-c:a", "libopus",
		"-vbr", "on",
		"-application", "voip",
		"-ar", fmt.Sprintf("%d", req.Audio.SampleRateKHz*1000),
		"-frame_duration", fmt.Sprintf("%d", req.Audio.PacketTimeMs),
		"-b:a", fmt.Sprintf("%dk", req.Audio.MaxBitrate),
		"-payload_type", fmt.Sprintf("%d", req.Audio.PayloadType),
		"-ssrc", fmt.Sprintf("%d", desc.AudioSSRC),
		"-f", "rtp",
		"-srtp_out_suite", "AES_CM_128_HMAC_SHA1_80",
		"-srtp_out_params", desc.AudioCrypto.SrtpKey(),
		fmt.Sprintf("srtp://%s:%d?rtcpport=%d&pkt_size=188",
			desc.ClientAddr, desc.ClientAudioPort, desc.ClientAudioPort),
	)

	return args
}

// recordArgs builds the argument vector for a secure-video recording
// session: fragmented MP4 on stdout, fragment length taken from the selected
// recording configuration.
func recordArgs(opts Options, in inputSpec, recCfg hsv.SelectedCameraRecordingConfiguration, transcode bool) []string {
	videoAttrs := recCfg.SelectedVideoConfiguration.VideoAttributes[0]
	videoParams := recCfg.SelectedVideoConfiguration.VideoCodecParameters[0]
	audioParams := recCfg.SelectedAudioConfiguration.AudioCodecParameters[0]

	var args []string
	args = append(args, "-hide_banner")
	args = append(args, in.args()...)

	args = append(args, "-map", "0:v:0")
	if !transcode {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-profile:v", videoProfileName(videoParams.ProfileID, opts.Encoder),
			"-level:v", videoLevelName(videoParams.Level),
			"-r", fmt.Sprintf("%d", videoAttrs.FrameRate),
			"-vf", fmt.Sprintf("scale=%d:-2", videoAttrs.ImageWidth),
			"-preset", "veryfast",
		)
	}

	args = append(args,
		"-map", "0:a:0?",
		"-c:a", "aac",
		"-profile:a", "aac_eld",
		"-flags", "+global_header",
		"-ar", fmt.Sprintf("%d", recordingSampleRate(audioParams)),
	)

	fragmentMs := int64(4000)
	if containers := recCfg.SelectedGeneralConfiguration.MediaContainerConfigurations; len(containers) > 0 &&
		len(containers[0].MediaContainerParameters) > 0 {
		fragmentMs = containers[0].MediaContainerParameters[0].FragmentLength
	}

	args = append(args,
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-frag_duration", fmt.Sprintf("%d", fragmentMs*1000),
		"pipe:1",
	)

	return args
}

// returnAudioArgs builds the argument vector for the talkback process: RTP
// described by an SDP document on stdin, AAC-ELD out to the camera's
// talkback endpoint.
func returnAudioArgs(talkbackURL string) []string {
	return []string{
		"-hide_banner",
		"-protocol_whitelist", "pipe,udp,rtp,file,crypto",
		"-f", "sdp",
		"-i", "pipe:0",
		"-acodec", "aac",
		"-profile:a", "aac_eld",
		"-flags", "+global_header",
		"-ar", "16000",
		"-ac", "1",
		"-b:a", "24k",
		"-f", "adts",
		talkbackURL,
	}
}

// returnAudioSDP describes the forwarded return-audio RTP stream for the
// talkback process.
func returnAudioSDP(port int, payloadType uint8) string {
	return fmt.Sprintf(
		"v=0\r\n"+
			"o=- 0 0 IN IP4 127.0.0.1\r\n"+
			"s=Talkback\r\n"+
			"c=IN IP4 127.0.0.1\r\n"+
			"t=0 0\r\n"+
			"m=audio %d RTP/AVP %d\r\n"+
			"a=rtpmap:%d opus/24000/2\r\n",
		port, payloadType, payloadType,
	)
}
