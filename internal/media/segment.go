// Package media defines the encoded-segment types and per-session
// configuration that flow through the recording pipeline, from the encoders
// through playlist management and delivery.
package media

// AudioSegment is one completed AAC segment: a sequence of ADTS-framed
// elementary frames covering a fixed nominal duration of audio. The byte
// buffer is owned by the encoder until the segment is returned, and must not
// be mutated afterwards.
type AudioSegment struct {
	// Data holds the concatenated ADTS frames. Each frame carries its own
	// 7-byte header, so the segment is decodable without external context.
	Data []byte
	// Sequence is assigned at encode completion: 0, 1, 2, ... per encoder
	// instance, contiguous, never reused.
	Sequence uint64
	// Duration is the nominal duration in seconds (0 for trailing fragments
	// emitted while draining encoder latency).
	Duration float64
	// Timestamp is milliseconds since epoch, derived from the running sample
	// count rather than the wall clock.
	Timestamp int64
	// SampleRate is the rate the payload was encoded at.
	SampleRate int
	// Channels is the encoded channel count.
	Channels int
}

// VideoSegment is one completed H.264 segment covering a frame-count-bounded
// group of pictures. Immutable once returned by the encoder.
type VideoSegment struct {
	Data       []byte
	Sequence   uint64
	Duration   float64
	Timestamp  int64
	FrameCount int
	Width      int
	Height     int
}
