package camera

import "github.com/camkit/protect-stream/device"

// transcodeDecision records whether a session needs the encoder and why,
// for log context.
type transcodeDecision struct {
	transcode bool
	reason    string
}

// decideTranscode determines whether the session can use the stream-copy
// fast path. Copying is always preferred when legal: it avoids CPU cost and
// generation loss.
func decideTranscode(opts Options, req StartRequest, sourceCodec string) transcodeDecision {
	switch {
	case opts.ForceTranscode:
		return transcodeDecision{true, "transcoding forced by configuration"}
	case opts.CropFilter != "":
		return transcodeDecision{true, "cropping configured"}
	case opts.HighLatencyTranscode && req.Audio.PacketTimeMs >= highLatencyPacketTimeMs:
		return transcodeDecision{true, "high-latency connection"}
	case sourceCodec != opts.NativeCodec:
		return transcodeDecision{true, "source codec " + sourceCodec + " not natively supported"}
	default:
		return transcodeDecision{false, ""}
	}
}

// selectProfile picks the input profile for the session: the highest quality
// available when transcoding, the closest match to the request when copying.
func selectProfile(dev *device.Device, req StartRequest, transcode bool) *device.StreamProfile {
	return dev.FindStreamProfile(req.Video.Width, req.Video.Height, req.Video.FPS, transcode)
}

// clampBitrate bounds the requested target bitrate to the source profile's
// own bitrate. Transcoding upward beyond source quality only burns CPU.
func clampBitrate(requested, source uint) uint {
	if source > 0 && requested > source {
		return source
	}
	return requested
}
