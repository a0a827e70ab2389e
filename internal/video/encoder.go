// Package video batches raw pixel frames into frame-count-bounded groups and
// encodes each group as one H.264 segment. Color-space conversion to planar
// YUV 4:2:0 happens here, so the codec engine always sees canonical input.
package video

import (
	"fmt"
	"log/slog"
	"time"

	"streamcap/internal/media"
)

// Encoder accumulates frames and emits one segment per complete group.
// Single-owner: exactly one goroutine may call Submit and Flush.
type Encoder struct {
	cfg    media.VideoConfig
	engine Engine
	log    *slog.Logger

	backlog    [][]byte
	seq        uint64
	frames     int64 // total frames consumed, drives segment timestamps
	baseMillis int64
}

// NewEncoder builds a video segment encoder on top of the given codec engine.
func NewEncoder(cfg media.VideoConfig, engine Engine, log *slog.Logger) *Encoder {
	return &Encoder{
		cfg:        cfg,
		engine:     engine,
		log:        log,
		baseMillis: time.Now().UnixMilli(),
	}
}

// Submit appends one raw frame to the backlog, converting to planar YUV 4:2:0
// if the session's pixel format is packed. When the backlog reaches a full
// group (frame_rate x segment duration), it is drained and encoded; the
// completed segment is returned, otherwise nil.
func (e *Encoder) Submit(frame []byte) (*media.VideoSegment, error) {
	planar, err := e.toPlanar(frame)
	if err != nil {
		return nil, err
	}
	e.backlog = append(e.backlog, planar)

	if len(e.backlog) < e.cfg.FramesPerSegment() {
		return nil, nil
	}
	group := e.backlog
	e.backlog = nil
	return e.encodeGroup(group)
}

// Flush encodes any partial backlog as a final, possibly shorter segment.
func (e *Encoder) Flush() (*media.VideoSegment, error) {
	if len(e.backlog) == 0 {
		return nil, nil
	}
	group := e.backlog
	e.backlog = nil
	return e.encodeGroup(group)
}

// encodeGroup runs one group through the codec. The sequence number is
// assigned only on success, keeping the stream contiguous across dropped
// segments.
func (e *Encoder) encodeGroup(group [][]byte) (*media.VideoSegment, error) {
	data, err := e.engine.EncodeGroup(group)
	if err != nil {
		e.frames += int64(len(group))
		return nil, fmt.Errorf("encode segment %d: %w", e.seq, err)
	}

	seg := &media.VideoSegment{
		Data:       data,
		Sequence:   e.seq,
		Duration:   float64(len(group)) / float64(e.cfg.FrameRate),
		Timestamp:  e.baseMillis + e.frames*1000/int64(e.cfg.FrameRate),
		FrameCount: len(group),
		Width:      e.cfg.Width,
		Height:     e.cfg.Height,
	}
	e.seq++
	e.frames += int64(len(group))

	e.log.Debug("encoded video segment",
		"sequence", seg.Sequence,
		"bytes", len(seg.Data),
		"frames", seg.FrameCount,
	)
	return seg, nil
}

// toPlanar converts one submitted frame to planar YUV 4:2:0, validating the
// byte length for the session's pixel format.
func (e *Encoder) toPlanar(frame []byte) ([]byte, error) {
	w, h := e.cfg.Width, e.cfg.Height
	switch e.cfg.PixelFormat {
	case media.PixelFormatYUV420P:
		if len(frame) != YUV420PSize(w, h) {
			return nil, fmt.Errorf("frame size %d, want %d for %dx%d yuv420p", len(frame), YUV420PSize(w, h), w, h)
		}
		return frame, nil
	case media.PixelFormatRGBA:
		if len(frame) != w*h*4 {
			return nil, fmt.Errorf("frame size %d, want %d for %dx%d rgba", len(frame), w*h*4, w, h)
		}
		return RGBAToYUV420P(frame, w, h), nil
	case media.PixelFormatBGRA:
		if len(frame) != w*h*4 {
			return nil, fmt.Errorf("frame size %d, want %d for %dx%d bgra", len(frame), w*h*4, w, h)
		}
		return BGRAToYUV420P(frame, w, h), nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", e.cfg.PixelFormat)
	}
}

// Close releases the codec engine. The encoder must not be used afterwards.
func (e *Encoder) Close() error {
	return e.engine.Close()
}
