package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streamcap/internal/audio"
	"streamcap/internal/hls"
	"streamcap/internal/media"
	"streamcap/internal/platform/metrics"
	"streamcap/internal/storage"
	"streamcap/internal/video"
)

// DefaultRefreshInterval is how often live playlists are re-rendered and
// re-uploaded while a session runs.
const DefaultRefreshInterval = 2 * time.Second

// stopTimeout bounds the final flush and playlist upload at session stop.
const stopTimeout = 30 * time.Second

// Delivery pushes encoded media and playlist text to storage. Implemented
// by storage.Uploader; tests substitute an in-memory fake.
type Delivery interface {
	UploadSegment(ctx context.Context, kind hls.Kind, key string, data []byte) error
	UpdatePlaylist(ctx context.Context, key, text string) error
	Cleanup(ctx context.Context, keys []string)
}

// Options configures one recording session.
type Options struct {
	Audio media.AudioConfig
	Video media.VideoConfig

	// WindowSize is the playlist sliding-window capacity.
	WindowSize int
	// RefreshInterval is the playlist upload cadence; DefaultRefreshInterval
	// if zero.
	RefreshInterval time.Duration
	// Streaming disables all storage traffic when false; segments are still
	// encoded and the window still advances.
	Streaming bool
	// BaseURL is the public storage base used to build playback URLs.
	BaseURL string
}

func (o Options) refreshInterval() time.Duration {
	if o.RefreshInterval <= 0 {
		return DefaultRefreshInterval
	}
	return o.RefreshInterval
}

// Pipeline runs one session: an audio flow and a video flow feed the
// encoders, and a refresh flow re-uploads the four playlists on a timer.
// Completed segments enter the sliding window and are uploaded as they
// land; entries evicted from the window are deleted best effort.
type Pipeline struct {
	Session *Session

	opts     Options
	audioEnc *audio.Encoder
	videoEnc *video.Encoder
	seg      *hls.Segmenter
	delivery Delivery
	metrics  *metrics.Metrics
	log      *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup // audio and video flows
	refreshWg sync.WaitGroup

	pushMu  sync.RWMutex
	closed  bool
	audioCh chan []float32
	frameCh chan []byte
}

// NewPipeline assembles a pipeline for one session. delivery may be nil
// when opts.Streaming is false.
func NewPipeline(sess *Session, opts Options, audioEnc *audio.Encoder, videoEnc *video.Encoder, delivery Delivery, m *metrics.Metrics, log *slog.Logger) *Pipeline {
	segCfg := hls.Config{
		WindowSize:      opts.WindowSize,
		TargetDuration:  int(opts.Audio.SegmentDuration + 0.5),
		VideoBandwidth:  opts.Video.Bitrate,
		AudioBandwidth:  opts.Audio.Bitrate,
		VideoResolution: fmt.Sprintf("%dx%d", opts.Video.Width, opts.Video.Height),
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		Session:  sess,
		opts:     opts,
		audioEnc: audioEnc,
		videoEnc: videoEnc,
		seg:      hls.NewSegmenter(segCfg, sess.UserID, sess.ID),
		delivery: delivery,
		metrics:  m,
		log:      log.With("session_id", sess.ID, "user_id", sess.UserID),
		ctx:      ctx,
		cancel:   cancel,
		audioCh:  make(chan []float32, 16),
		frameCh:  make(chan []byte, 64),
	}
}

// Start transitions the session to Recording and launches the three flows.
func (p *Pipeline) Start() error {
	if err := p.Session.Start(); err != nil {
		return err
	}

	p.wg.Add(2)
	go p.audioLoop()
	go p.videoLoop()
	if p.streaming() {
		p.refreshWg.Add(1)
		go p.refreshLoop()
	}

	p.log.Info("session recording",
		slog.Int("sample_rate", p.opts.Audio.SampleRate),
		slog.Int("channels", p.opts.Audio.Channels),
		slog.String("resolution", fmt.Sprintf("%dx%d", p.opts.Video.Width, p.opts.Video.Height)),
		slog.Bool("streaming", p.streaming()),
	)
	return nil
}

func (p *Pipeline) streaming() bool {
	return p.opts.Streaming && p.delivery != nil
}

// Pause suspends ingest. Media pushed while paused is discarded.
func (p *Pipeline) Pause() error { return p.Session.Pause() }

// Resume re-enables ingest after a pause.
func (p *Pipeline) Resume() error { return p.Session.Resume() }

// PushAudio submits interleaved float32 samples. Samples are queued for the
// audio flow; when the queue is full the batch is dropped rather than
// blocking the caller.
func (p *Pipeline) PushAudio(samples []float32) error {
	ok, err := p.gate()
	if !ok {
		return err
	}

	p.pushMu.RLock()
	defer p.pushMu.RUnlock()
	if p.closed {
		return ErrNotRecording
	}
	select {
	case p.audioCh <- samples:
	default:
		p.log.Warn("audio queue full, dropping batch", slog.Int("samples", len(samples)))
	}
	return nil
}

// PushFrame submits one raw video frame in the configured pixel format.
func (p *Pipeline) PushFrame(frame []byte) error {
	ok, err := p.gate()
	if !ok {
		return err
	}

	p.pushMu.RLock()
	defer p.pushMu.RUnlock()
	if p.closed {
		return ErrNotRecording
	}
	select {
	case p.frameCh <- frame:
		p.Session.addFrames(1)
	default:
		p.log.Warn("frame queue full, dropping frame")
	}
	return nil
}

// gate maps session state to push behavior: ok means queue the media;
// !ok with a nil error means the session is paused and the media is
// silently discarded.
func (p *Pipeline) gate() (ok bool, err error) {
	accept, discard := p.Session.CanIngest()
	if accept {
		return true, nil
	}
	if discard {
		return false, nil
	}
	return false, ErrNotRecording
}

// Stop flushes both encoders, completes the playlists with an end marker,
// uploads the final state, and releases the engines. Idempotent errors:
// a second Stop returns ErrNotRecording.
func (p *Pipeline) Stop() error {
	if err := p.Session.BeginStop(); err != nil {
		return err
	}

	// Reject further pushes, let the encode flows drain their queues, then
	// stop the refresh timer. The final playlist state is uploaded below
	// under its own deadline.
	p.pushMu.Lock()
	p.closed = true
	close(p.audioCh)
	close(p.frameCh)
	p.pushMu.Unlock()
	p.wg.Wait()
	p.cancel()
	p.refreshWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	// Final video group first so the flush audio can pair with it.
	if vseg, err := p.videoEnc.Flush(); err != nil {
		p.log.Error("video flush failed", slog.String("error", err.Error()))
		p.metrics.IncEncodeErrors("video")
	} else if vseg != nil {
		p.metrics.IncSegmentsEncoded("video")
		p.Session.addVideoSegment()
		p.seg.OfferVideo(vseg)
	}

	asegs, err := p.audioEnc.Flush()
	if err != nil {
		p.log.Error("audio flush failed", slog.String("error", err.Error()))
		p.metrics.IncEncodeErrors("audio")
	}
	for _, a := range asegs {
		p.metrics.IncSegmentsEncoded("audio")
		p.Session.addAudioSegment()
		entry, v, evicted := p.seg.RecordAudio(a)
		p.publish(ctx, entry, a, v, evicted)
	}

	entries, videos, evicted := p.seg.DrainPending()
	for i, e := range entries {
		p.publish(ctx, e, nil, videos[i], nil)
	}
	p.evict(ctx, evicted)

	p.seg.Finish()
	if p.streaming() {
		p.uploadPlaylists(ctx)
	}

	if err := p.audioEnc.Close(); err != nil {
		p.log.Warn("audio engine close", slog.String("error", err.Error()))
	}
	if err := p.videoEnc.Close(); err != nil {
		p.log.Warn("video engine close", slog.String("error", err.Error()))
	}

	p.Session.CompleteStop()
	p.log.Info("session stopped",
		slog.Int64("audio_segments", p.Session.Stats().AudioSegments),
		slog.Int64("video_segments", p.Session.Stats().VideoSegments),
	)
	return nil
}

// URLs returns the public playback addresses for this session's playlists.
func (p *Pipeline) URLs() StreamURLs {
	base := p.opts.BaseURL
	prefix := base + "/" + p.Session.UserID + "/" + p.Session.ID
	return StreamURLs{
		Master:   prefix + "/stream.m3u8",
		Video:    prefix + "/video/stream.m3u8",
		Audio:    prefix + "/audio/stream.m3u8",
		Combined: prefix + "/combined-source/stream.m3u8",
	}
}

// Playlist renders the current playlist text for one kind.
func (p *Pipeline) Playlist(kind hls.Kind) string {
	if kind == hls.KindMaster {
		return p.seg.RenderMaster()
	}
	return p.seg.Render(kind)
}

func (p *Pipeline) audioLoop() {
	defer p.wg.Done()
	for samples := range p.audioCh {
		segs, err := p.audioEnc.Submit(samples)
		if err != nil {
			p.log.Error("audio encode failed", slog.String("error", err.Error()))
			p.metrics.IncEncodeErrors("audio")
			continue
		}
		for _, a := range segs {
			p.metrics.IncSegmentsEncoded("audio")
			p.Session.addAudioSegment()
			entry, v, evicted := p.seg.RecordAudio(a)
			p.publish(p.ctx, entry, a, v, evicted)
		}
	}
}

func (p *Pipeline) videoLoop() {
	defer p.wg.Done()
	for frame := range p.frameCh {
		vseg, err := p.videoEnc.Submit(frame)
		if err != nil {
			p.log.Error("video encode failed", slog.String("error", err.Error()))
			p.metrics.IncEncodeErrors("video")
			continue
		}
		if vseg == nil {
			continue
		}
		p.metrics.IncSegmentsEncoded("video")
		p.Session.addVideoSegment()
		p.seg.OfferVideo(vseg)
	}
}

func (p *Pipeline) refreshLoop() {
	defer p.refreshWg.Done()
	ticker := time.NewTicker(p.opts.refreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.uploadPlaylists(p.ctx)
			p.metrics.IncPlaylistRefreshes()
		}
	}
}

// publish uploads the media behind one new window entry, then schedules
// deletion of anything the entry pushed out. Uploads for one entry run
// concurrently; a deadline miss drops the item and the session moves on.
func (p *Pipeline) publish(ctx context.Context, entry hls.Entry, a *media.AudioSegment, v *media.VideoSegment, evicted []hls.Entry) {
	if p.streaming() {
		g, gctx := errgroup.WithContext(ctx)
		if a != nil {
			g.Go(func() error {
				return p.upload(gctx, hls.KindAudio, p.seg.SegmentKey(entry, hls.KindAudio), a.Data)
			})
		}
		if v != nil {
			g.Go(func() error {
				return p.upload(gctx, hls.KindVideo, p.seg.SegmentKey(entry, hls.KindVideo), v.Data)
			})
			g.Go(func() error {
				return p.upload(gctx, hls.KindCombined, p.seg.SegmentKey(entry, hls.KindCombined), combinedData(v, a))
			})
		}
		_ = g.Wait()
	}
	p.evict(ctx, evicted)
}

// combinedData is the mixed-source payload: the video transport stream
// followed by the audio bytes.
func combinedData(v *media.VideoSegment, a *media.AudioSegment) []byte {
	out := make([]byte, 0, len(v.Data)+audioLen(a))
	out = append(out, v.Data...)
	if a != nil {
		out = append(out, a.Data...)
	}
	return out
}

func audioLen(a *media.AudioSegment) int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

func (p *Pipeline) upload(ctx context.Context, kind hls.Kind, key string, data []byte) error {
	err := p.delivery.UploadSegment(ctx, kind, key, data)
	switch {
	case err == nil:
		p.metrics.IncUploads("ok")
		p.metrics.AddBytesUploaded(len(data))
		p.Session.addBytesUploaded(len(data))
	case isDeadline(err):
		p.metrics.IncUploads("timeout")
		p.log.Warn("segment upload timed out, dropping", slog.String("key", key))
	default:
		p.metrics.IncUploads("error")
		p.log.Error("segment upload failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	// Upload failures never stall the pipeline.
	return nil
}

func isDeadline(err error) bool {
	return errors.Is(err, storage.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) uploadPlaylists(ctx context.Context) {
	for _, kind := range []hls.Kind{hls.KindVideo, hls.KindAudio, hls.KindCombined, hls.KindMaster} {
		text := p.Playlist(kind)
		if err := p.delivery.UpdatePlaylist(ctx, p.seg.PlaylistKey(kind), text); err != nil {
			p.log.Warn("playlist upload failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
		}
	}
}

// evict deletes the stored objects behind entries that left the window.
// Deletion is best effort; the window has already moved on.
func (p *Pipeline) evict(ctx context.Context, evicted []hls.Entry) {
	if len(evicted) == 0 {
		return
	}
	p.metrics.AddEvicted(len(evicted))
	if !p.streaming() {
		return
	}
	var keys []string
	for _, e := range evicted {
		if e.AudioURL != "" {
			keys = append(keys, p.seg.SegmentKey(e, hls.KindAudio))
		}
		if e.VideoURL != "" {
			keys = append(keys, p.seg.SegmentKey(e, hls.KindVideo))
			keys = append(keys, p.seg.SegmentKey(e, hls.KindCombined))
		}
	}
	p.delivery.Cleanup(ctx, keys)
}
