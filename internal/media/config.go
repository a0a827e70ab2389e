package media

// PixelFormat identifies the layout of raw frame bytes handed to the video
// encoder.
type PixelFormat string

// Supported raw pixel formats.
const (
	PixelFormatYUV420P PixelFormat = "yuv420p"
	PixelFormatRGBA    PixelFormat = "rgba"
	PixelFormatBGRA    PixelFormat = "bgra"
)

// AudioConfig holds the immutable audio encoding settings for one session.
type AudioConfig struct {
	// SampleRate of the incoming interleaved float samples, in Hz.
	SampleRate int
	// Channels of the incoming samples (1 or 2).
	Channels int
	// Bitrate of the AAC output in bits per second.
	Bitrate int
	// SegmentDuration is the nominal seconds of audio per segment.
	SegmentDuration float64
}

// DefaultAudioConfig returns the session defaults: 48 kHz stereo at 128 kbps
// in 2-second segments.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:      48000,
		Channels:        2,
		Bitrate:         128000,
		SegmentDuration: 2.0,
	}
}

// VideoConfig holds the immutable video encoding settings for one session.
type VideoConfig struct {
	Width  int
	Height int
	// FrameRate in frames per second.
	FrameRate int
	// Bitrate of the H.264 output in bits per second.
	Bitrate int
	// PixelFormat of submitted raw frames.
	PixelFormat PixelFormat
	// SegmentDuration is the nominal seconds of video per segment; the
	// encoder batches FrameRate*SegmentDuration frames per segment.
	SegmentDuration float64
}

// DefaultVideoConfig returns the session defaults: 1080p30 H.264 at 2 Mbps
// in 2-second segments, frames arriving as packed RGBA.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Width:           1920,
		Height:          1080,
		FrameRate:       30,
		Bitrate:         2000000,
		PixelFormat:     PixelFormatRGBA,
		SegmentDuration: 2.0,
	}
}

// FramesPerSegment returns how many raw frames make up one complete segment.
func (c VideoConfig) FramesPerSegment() int {
	n := int(float64(c.FrameRate) * c.SegmentDuration)
	if n < 1 {
		n = 1
	}
	return n
}
