// Package recorder drives capture-to-HLS recording sessions: it feeds raw
// audio and video through the encoders, maintains the sliding playlist
// window, and pushes segments and playlists to object storage while the
// session runs.
package recorder

import (
	"errors"
	"sync"
	"time"
)

// Status is a session lifecycle state.
type Status string

// Session lifecycle states. Recording and Paused may alternate; Stopping,
// Stopped, and Error are terminal or one-way.
const (
	StatusInitializing Status = "initializing"
	StatusRecording    Status = "recording"
	StatusPaused       Status = "paused"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// State machine violations, mapped to HTTP 409 by the handler.
var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrNotPaused        = errors.New("not paused")
)

// Stats is a point-in-time snapshot of one session's progress. Duration
// excludes paused spans.
type Stats struct {
	DurationSeconds float64 `json:"duration_seconds"`
	FramesCaptured  int64   `json:"frames_captured"`
	AudioSegments   int64   `json:"audio_segments"`
	VideoSegments   int64   `json:"video_segments"`
	BytesUploaded   int64   `json:"bytes_uploaded"`
	AverageFPS      float64 `json:"average_fps"`
}

// StreamURLs are the public playback addresses for one session.
type StreamURLs struct {
	Master   string `json:"master"`
	Video    string `json:"video"`
	Audio    string `json:"audio"`
	Combined string `json:"combined"`
}

// Session tracks the lifecycle and counters of one recording. All state
// transitions are validated here so every caller sees the same machine.
type Session struct {
	ID     string
	UserID string

	mu          sync.Mutex
	status      Status
	errReason   string
	startedAt   time.Time
	stoppedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	frames        int64
	audioSegments int64
	videoSegments int64
	bytesUploaded int64
}

// NewSession returns a session in the Initializing state.
func NewSession(id, userID string) *Session {
	return &Session{ID: id, UserID: userID, status: StatusInitializing}
}

// Start moves Initializing to Recording.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInitializing {
		return ErrAlreadyRecording
	}
	s.status = StatusRecording
	s.startedAt = time.Now()
	return nil
}

// Pause moves Recording to Paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return ErrNotRecording
	}
	s.status = StatusPaused
	s.pausedAt = time.Now()
	return nil
}

// Resume moves Paused back to Recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return ErrNotPaused
	}
	s.pausedTotal += time.Since(s.pausedAt)
	s.status = StatusRecording
	return nil
}

// BeginStop moves Recording or Paused to Stopping. Ingest is rejected from
// this point on.
func (s *Session) BeginStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusRecording:
	case StatusPaused:
		s.pausedTotal += time.Since(s.pausedAt)
	default:
		return ErrNotRecording
	}
	s.status = StatusStopping
	s.stoppedAt = time.Now()
	return nil
}

// CompleteStop moves Stopping to Stopped. A session that already failed
// stays in Error.
func (s *Session) CompleteStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopping {
		s.status = StatusStopped
	}
}

// Fail moves the session to Error from any state, keeping the reason.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusPaused {
		s.pausedTotal += time.Since(s.pausedAt)
	}
	if s.stoppedAt.IsZero() {
		s.stoppedAt = time.Now()
	}
	s.status = StatusError
	s.errReason = reason
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrReason returns the failure reason, or "" if the session never failed.
func (s *Session) ErrReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errReason
}

// CanIngest reports whether pushed media should be accepted. Paused
// sessions discard input without error.
func (s *Session) CanIngest() (accept, discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusRecording:
		return true, false
	case StatusPaused:
		return false, true
	}
	return false, false
}

// Active reports whether the session still counts toward the active gauge.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRecording || s.status == StatusPaused
}

func (s *Session) addFrames(n int64)      { s.mu.Lock(); s.frames += n; s.mu.Unlock() }
func (s *Session) addAudioSegment()       { s.mu.Lock(); s.audioSegments++; s.mu.Unlock() }
func (s *Session) addVideoSegment()       { s.mu.Lock(); s.videoSegments++; s.mu.Unlock() }
func (s *Session) addBytesUploaded(n int) { s.mu.Lock(); s.bytesUploaded += int64(n); s.mu.Unlock() }

// Stats snapshots the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Once the session leaves its active states the duration is final.
	var dur time.Duration
	if !s.startedAt.IsZero() {
		end := time.Now()
		if !s.stoppedAt.IsZero() {
			end = s.stoppedAt
		}
		dur = end.Sub(s.startedAt) - s.pausedTotal
		if s.status == StatusPaused {
			dur -= time.Since(s.pausedAt)
		}
	}
	st := Stats{
		DurationSeconds: dur.Seconds(),
		FramesCaptured:  s.frames,
		AudioSegments:   s.audioSegments,
		VideoSegments:   s.videoSegments,
		BytesUploaded:   s.bytesUploaded,
	}
	if st.DurationSeconds > 0 {
		st.AverageFPS = float64(s.frames) / st.DurationSeconds
	}
	return st
}
