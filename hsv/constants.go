package hsv

const (
	VideoCodecH264 = 0
	VideoCodecH265 = 1

	AudioRecordingCodecAAC_LC  = 0
	AudioRecordingCodecAAC_ELD = 1

	AudioRecordingSampleRate8Khz  = 0
	AudioRecordingSampleRate16Khz = 1
	AudioRecordingSampleRate24Khz = 2
	AudioRecordingSampleRate32Khz = 3
	AudioRecordingSampleRate44Khz = 4
	AudioRecordingSampleRate48Khz = 5

	MediaContainerFragmentedMP4 = 0
)
