// Package hls maintains the sliding window of recorded segments and renders
// live playlists for the video, audio, and combined variants plus the master
// manifest. Playlists are never stored; they are rendered fresh from the
// window on every call, so playlist text and window state cannot diverge.
package hls

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"streamcap/internal/media"
)

// Kind selects a stream variant.
type Kind string

// Stream variants.
const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindCombined Kind = "combined"
	KindMaster   Kind = "master"
)

// PlaylistContentType is the MIME type for every playlist kind.
const PlaylistContentType = "application/vnd.apple.mpegurl"

// SegmentContentType returns the MIME type for segment uploads of the
// given kind.
func SegmentContentType(kind Kind) string {
	if kind == KindAudio {
		return "audio/aac"
	}
	return "video/mp2t"
}

// DefaultWindowSize is the default number of entries retained in the
// sliding window.
const DefaultWindowSize = 5

// Entry is one retained playlist position, derived from an audio segment
// and/or a video segment sharing the slot. URLs are relative to the session
// prefix and empty when that stream did not contribute.
type Entry struct {
	Sequence    uint64
	Duration    float64
	VideoURL    string
	AudioURL    string
	CombinedURL string
	Timestamp   int64
	VideoSize   int
	AudioSize   int
}

// Config holds the immutable playlist settings for one session.
type Config struct {
	// WindowSize is the sliding-window capacity; DefaultWindowSize if <= 0.
	WindowSize int
	// TargetDuration is the declared EXT-X-TARGETDURATION in seconds.
	TargetDuration int
	// VideoBandwidth and AudioBandwidth are the bandwidths declared in the
	// master manifest, in bits per second.
	VideoBandwidth int
	AudioBandwidth int
	// VideoResolution is the RESOLUTION attribute, e.g. "1920x1080".
	VideoResolution string
}

// Segmenter is the single source of truth for playlist ordering. Its own
// sequence counter is independent of the encoders' counters, and all access
// is serialized internally: the audio flow, video flow, and refresh flow may
// call concurrently.
type Segmenter struct {
	mu        sync.Mutex
	cfg       Config
	userID    string
	sessionID string

	window  []Entry
	seq     uint64
	pending []*media.VideoSegment // completed video segments awaiting an audio slot
	ended   bool
}

// NewSegmenter returns an empty segmenter for one recording session. Storage
// keys embed userID and sessionID, so both must be stable for the session's
// lifetime.
func NewSegmenter(cfg Config, userID, sessionID string) *Segmenter {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = 2
	}
	return &Segmenter{cfg: cfg, userID: userID, sessionID: sessionID}
}

// OfferVideo queues a completed video segment for pairing with the next
// audio slot. Pairing is best-effort: nothing blocks waiting for the
// other stream.
func (s *Segmenter) OfferVideo(v *media.VideoSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, v)
}

// RecordAudio records an audio segment, pairing it with the oldest queued
// video segment if one has arrived. It returns the new entry, the paired
// video segment (nil when none was queued), and any entries evicted from
// the front of the window. The caller owns uploading the paired video.
func (s *Segmenter) RecordAudio(a *media.AudioSegment) (Entry, *media.VideoSegment, []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v *media.VideoSegment
	if len(s.pending) > 0 {
		v = s.pending[0]
		s.pending = s.pending[1:]
	}
	e, evicted := s.recordLocked(a, v)
	return e, v, evicted
}

// DrainPending converts any leftover queued video segments into video-only
// entries. Called at session stop, after the final audio flush. entries[i]
// was produced by videos[i].
func (s *Segmenter) DrainPending() (entries []Entry, videos []*media.VideoSegment, evicted []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.pending {
		e, ev := s.recordLocked(nil, v)
		entries = append(entries, e)
		videos = append(videos, v)
		evicted = append(evicted, ev...)
	}
	s.pending = nil
	return entries, videos, evicted
}

// Record records a slot from an audio and/or video segment directly,
// bypassing the pairing queue.
func (s *Segmenter) Record(a *media.AudioSegment, v *media.VideoSegment) (Entry, []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(a, v)
}

func (s *Segmenter) recordLocked(a *media.AudioSegment, v *media.VideoSegment) (Entry, []Entry) {
	e := Entry{Sequence: s.seq}

	if a != nil {
		e.Duration = a.Duration
		e.AudioURL = fmt.Sprintf("audio/audio_recording_%d.aac", s.seq)
		e.AudioSize = len(a.Data)
		e.Timestamp = a.Timestamp
	}
	if v != nil {
		e.Duration = math.Max(e.Duration, v.Duration)
		e.VideoURL = fmt.Sprintf("video/video_recording_%d.ts", s.seq)
		e.CombinedURL = fmt.Sprintf("combined-source/segment_%d.ts", s.seq)
		e.VideoSize = len(v.Data)
		if e.Timestamp == 0 {
			e.Timestamp = v.Timestamp
		}
	}

	s.window = append(s.window, e)
	s.seq++

	var evicted []Entry
	for len(s.window) > s.cfg.WindowSize {
		evicted = append(evicted, s.window[0])
		s.window = s.window[1:]
	}
	return e, evicted
}

// Finish marks the stream complete; subsequent renders carry EXT-X-ENDLIST.
func (s *Segmenter) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// Entries returns a snapshot of the current window, oldest first.
func (s *Segmenter) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.window))
	copy(out, s.window)
	return out
}

// Render emits the live playlist for one variant: header tags, then one
// duration+URI pair per retained entry that has the variant's URL. The
// media-sequence tag always equals the oldest retained entry's sequence.
func (s *Segmenter) Render(kind Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", s.targetDurationLocked())

	if len(s.window) > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", s.window[0].Sequence)
	}

	for _, e := range s.window {
		url := e.url(kind)
		if url == "" {
			continue
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", e.Duration, url)
	}

	if s.ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// RenderMaster emits the master manifest referencing the video and audio
// sub-playlists with their declared bandwidths.
func (s *Segmenter) RenderMaster() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", s.cfg.VideoBandwidth)
	if s.cfg.VideoResolution != "" {
		fmt.Fprintf(&b, ",RESOLUTION=%s", s.cfg.VideoResolution)
	}
	b.WriteString("\nvideo/stream.m3u8\n")

	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n", s.cfg.AudioBandwidth)
	b.WriteString("audio/stream.m3u8\n")

	return b.String()
}

// targetDurationLocked is the ceiling of the longest retained duration, never
// below the configured target.
func (s *Segmenter) targetDurationLocked() int {
	td := s.cfg.TargetDuration
	for _, e := range s.window {
		if c := int(math.Ceil(e.Duration)); c > td {
			td = c
		}
	}
	return td
}

// Clear resets the window and sequence counter. Used only at session
// teardown, never mid-session.
func (s *Segmenter) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.pending = nil
	s.seq = 0
	s.ended = false
}

// url returns the entry's relative URL for the given kind, or "".
func (e Entry) url(kind Kind) string {
	switch kind {
	case KindVideo:
		return e.VideoURL
	case KindAudio:
		return e.AudioURL
	case KindCombined:
		return e.CombinedURL
	}
	return ""
}

// SegmentKey derives the deterministic storage key for one entry and kind.
// Keys depend only on identifiers fixed at session start plus the entry's
// sequence, so re-deriving a past key always yields the same value.
func (s *Segmenter) SegmentKey(e Entry, kind Kind) string {
	prefix := s.userID + "/" + s.sessionID
	switch kind {
	case KindVideo:
		return fmt.Sprintf("%s/video/video_recording_%d.ts", prefix, e.Sequence)
	case KindAudio:
		return fmt.Sprintf("%s/audio/audio_recording_%d.aac", prefix, e.Sequence)
	case KindCombined:
		return fmt.Sprintf("%s/combined-source/segment_%d.ts", prefix, e.Sequence)
	}
	return ""
}

// PlaylistKey derives the storage key for a playlist of the given kind; the
// master manifest lives at the session root.
func (s *Segmenter) PlaylistKey(kind Kind) string {
	prefix := s.userID + "/" + s.sessionID
	switch kind {
	case KindVideo:
		return prefix + "/video/stream.m3u8"
	case KindAudio:
		return prefix + "/audio/stream.m3u8"
	case KindCombined:
		return prefix + "/combined-source/stream.m3u8"
	case KindMaster:
		return prefix + "/stream.m3u8"
	}
	return ""
}
