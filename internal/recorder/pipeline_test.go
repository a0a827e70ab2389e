package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"streamcap/internal/audio"
	"streamcap/internal/hls"
	"streamcap/internal/media"
	"streamcap/internal/video"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAudioEngine emits one fixed payload per codec frame.
type stubAudioEngine struct{ closed bool }

func (s *stubAudioEngine) FrameSize() int { return 1024 }
func (s *stubAudioEngine) Encode(planes [][]float32) ([][]byte, error) {
	return [][]byte{{0xAA, 0x01}}, nil
}
func (s *stubAudioEngine) Drain() ([][]byte, error) { return nil, nil }
func (s *stubAudioEngine) Close() error             { s.closed = true; return nil }

// stubVideoEngine emits one byte per frame in the group.
type stubVideoEngine struct{ closed bool }

func (s *stubVideoEngine) EncodeGroup(frames [][]byte) ([]byte, error) {
	return bytes.Repeat([]byte{0xEE}, len(frames)), nil
}
func (s *stubVideoEngine) Close() error { s.closed = true; return nil }

// fakeDelivery collects uploads in memory.
type fakeDelivery struct {
	mu        sync.Mutex
	segments  map[string][]byte
	playlists map[string]string
	deleted   []string
	err       error
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{
		segments:  make(map[string][]byte),
		playlists: make(map[string]string),
	}
}

func (f *fakeDelivery) UploadSegment(ctx context.Context, kind hls.Kind, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.segments[key] = append([]byte{}, data...)
	return nil
}

func (f *fakeDelivery) UpdatePlaylist(ctx context.Context, key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.playlists[key] = text
	return nil
}

func (f *fakeDelivery) Cleanup(ctx context.Context, keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
}

func (f *fakeDelivery) segment(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.segments[key]
	return data, ok
}

func (f *fakeDelivery) playlist(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.playlists[key]
	return text, ok
}

// Small formats keep test payloads cheap: 2 s audio segments at 8 kHz mono,
// 10-frame video groups at 4x4.
func testOptions() Options {
	return Options{
		Audio: media.AudioConfig{SampleRate: 8000, Channels: 1, Bitrate: 64000, SegmentDuration: 2.0},
		Video: media.VideoConfig{
			Width: 4, Height: 4, FrameRate: 5, Bitrate: 1000,
			PixelFormat: media.PixelFormatYUV420P, SegmentDuration: 2.0,
		},
		WindowSize:      5,
		RefreshInterval: 20 * time.Millisecond,
		Streaming:       true,
		BaseURL:         "https://bucket.s3.us-east-1.amazonaws.com",
	}
}

func newTestPipeline(t *testing.T, opts Options, delivery Delivery) *Pipeline {
	t.Helper()
	sess := NewSession("sess1", "u1")
	p := NewPipeline(sess, opts,
		audio.NewEncoder(opts.Audio, &stubAudioEngine{}, discardLogger()),
		video.NewEncoder(opts.Video, &stubVideoEngine{}, discardLogger()),
		delivery, nil, discardLogger(),
	)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func audioChunk(opts Options, seconds float64) []float32 {
	n := int(float64(opts.Audio.SampleRate)*seconds) * opts.Audio.Channels
	return make([]float32, n)
}

func videoFrame(opts Options) []byte {
	return make([]byte, video.YUV420PSize(opts.Video.Width, opts.Video.Height))
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipeline_audio_segments_uploaded(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	waitFor(t, "first audio segment", func() bool {
		_, ok := delivery.segment("u1/sess1/audio/audio_recording_0.aac")
		return ok
	})

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	data, _ := delivery.segment("u1/sess1/audio/audio_recording_0.aac")
	if len(data) == 0 {
		t.Fatal("uploaded audio segment is empty")
	}
	// Every uploaded audio segment must be self-describing ADTS.
	if data[0] != 0xFF {
		t.Errorf("segment does not start with ADTS sync: %#x", data[0])
	}
}

func TestPipeline_pairs_video_with_audio(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	// Complete one video group first so the next audio slot pairs with it.
	for i := 0; i < opts.Video.FramesPerSegment(); i++ {
		if err := p.PushFrame(videoFrame(opts)); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
	}
	waitFor(t, "video group encoded", func() bool {
		return p.Session.Stats().VideoSegments == 1
	})

	if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	waitFor(t, "paired slot uploaded", func() bool {
		_, ok := delivery.segment("u1/sess1/combined-source/segment_0.ts")
		return ok
	})

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	vdata, ok := delivery.segment("u1/sess1/video/video_recording_0.ts")
	if !ok {
		t.Fatal("video segment not uploaded")
	}
	adata, _ := delivery.segment("u1/sess1/audio/audio_recording_0.aac")
	combined, _ := delivery.segment("u1/sess1/combined-source/segment_0.ts")

	// Combined payload is the video bytes followed by the audio bytes.
	if len(combined) != len(vdata)+len(adata) {
		t.Fatalf("combined = %d bytes, want %d + %d", len(combined), len(vdata), len(adata))
	}
	if !bytes.Equal(combined[:len(vdata)], vdata) || !bytes.Equal(combined[len(vdata):], adata) {
		t.Error("combined payload is not video bytes then audio bytes")
	}
}

func TestPipeline_refresh_uploads_playlists(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)
	defer p.Stop()

	if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	for _, key := range []string{
		"u1/sess1/stream.m3u8",
		"u1/sess1/video/stream.m3u8",
		"u1/sess1/audio/stream.m3u8",
		"u1/sess1/combined-source/stream.m3u8",
	} {
		waitFor(t, key, func() bool {
			_, ok := delivery.playlist(key)
			return ok
		})
	}

	audioList, _ := delivery.playlist("u1/sess1/audio/stream.m3u8")
	if !strings.Contains(audioList, "#EXTM3U") {
		t.Errorf("audio playlist malformed:\n%s", audioList)
	}
	master, _ := delivery.playlist("u1/sess1/stream.m3u8")
	if !strings.Contains(master, "#EXT-X-STREAM-INF") {
		t.Errorf("master manifest malformed:\n%s", master)
	}
}

func TestPipeline_stop_finalizes_playlists(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	if err := p.PushAudio(audioChunk(opts, 1.0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if p.Session.Status() != StatusStopped {
		t.Fatalf("status = %s, want stopped", p.Session.Status())
	}
	// The partial second of audio is padded into a final full segment.
	if _, ok := delivery.segment("u1/sess1/audio/audio_recording_0.aac"); !ok {
		t.Error("flushed segment not uploaded")
	}
	audioList, _ := delivery.playlist("u1/sess1/audio/stream.m3u8")
	if !strings.Contains(audioList, "#EXT-X-ENDLIST") {
		t.Errorf("final playlist missing ENDLIST:\n%s", audioList)
	}
}

func TestPipeline_stop_drains_unpaired_video(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	for i := 0; i < opts.Video.FramesPerSegment(); i++ {
		if err := p.PushFrame(videoFrame(opts)); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, ok := delivery.segment("u1/sess1/video/video_recording_0.ts"); !ok {
		t.Error("unpaired video segment not uploaded at stop")
	}
	videoList, _ := delivery.playlist("u1/sess1/video/stream.m3u8")
	if !strings.Contains(videoList, "video_recording_0.ts") {
		t.Errorf("video playlist missing drained entry:\n%s", videoList)
	}
}

func TestPipeline_evicted_segments_deleted(t *testing.T) {
	opts := testOptions()
	opts.WindowSize = 2
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	for i := 0; i < 4; i++ {
		if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
			t.Fatalf("PushAudio: %v", err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	deleted := strings.Join(delivery.deleted, "\n")
	if !strings.Contains(deleted, "audio_recording_0.aac") {
		t.Errorf("evicted sequence 0 not cleaned up, deleted:\n%s", deleted)
	}
}

func TestPipeline_pause_discards_input(t *testing.T) {
	opts := testOptions()
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Discarded without error.
	if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
		t.Fatalf("PushAudio while paused: %v", err)
	}
	if err := p.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.Session.Stats().AudioSegments; got != 0 {
		t.Errorf("audio segments = %d, paused input must not be encoded", got)
	}
}

func TestPipeline_rejects_after_stop(t *testing.T) {
	opts := testOptions()
	p := newTestPipeline(t, opts, newFakeDelivery())

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.PushAudio(audioChunk(opts, 1.0)); !errors.Is(err, ErrNotRecording) {
		t.Errorf("PushAudio after stop: got %v, want ErrNotRecording", err)
	}
	if err := p.PushFrame(videoFrame(opts)); !errors.Is(err, ErrNotRecording) {
		t.Errorf("PushFrame after stop: got %v, want ErrNotRecording", err)
	}
	if err := p.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop: got %v, want ErrNotRecording", err)
	}
}

func TestPipeline_streaming_disabled_skips_uploads(t *testing.T) {
	opts := testOptions()
	opts.Streaming = false
	delivery := newFakeDelivery()
	p := newTestPipeline(t, opts, delivery)

	if err := p.PushAudio(audioChunk(opts, 2.0)); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	waitFor(t, "segment encoded", func() bool {
		return p.Session.Stats().AudioSegments >= 1
	})
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	delivery.mu.Lock()
	defer delivery.mu.Unlock()
	if len(delivery.segments) != 0 || len(delivery.playlists) != 0 {
		t.Error("storage touched with streaming disabled")
	}
	// The window still advances so local playlists stay renderable.
	if !strings.Contains(p.Playlist(hls.KindAudio), "audio_recording_0.aac") {
		t.Error("local playlist missing encoded segment")
	}
}

func TestPipeline_URLs(t *testing.T) {
	opts := testOptions()
	p := newTestPipeline(t, opts, newFakeDelivery())
	defer p.Stop()

	urls := p.URLs()
	base := "https://bucket.s3.us-east-1.amazonaws.com/u1/sess1"
	if urls.Master != base+"/stream.m3u8" {
		t.Errorf("master = %q", urls.Master)
	}
	if urls.Video != base+"/video/stream.m3u8" {
		t.Errorf("video = %q", urls.Video)
	}
	if urls.Audio != base+"/audio/stream.m3u8" {
		t.Errorf("audio = %q", urls.Audio)
	}
	if urls.Combined != base+"/combined-source/stream.m3u8" {
		t.Errorf("combined = %q", urls.Combined)
	}
}
