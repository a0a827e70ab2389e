package video

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
)

// Engine is the H.264 codec backend: it encodes one complete group of planar
// YUV 4:2:0 frames into a container-ready byte segment.
type Engine interface {
	EncodeGroup(frames [][]byte) ([]byte, error)
	Close() error
}

// FFmpegEngine encodes each frame group with a single ffmpeg invocation,
// producing an MPEG-TS segment. Groups are independent, so per-group
// processes keep every segment self-contained (each starts with a keyframe).
type FFmpegEngine struct {
	bin       string
	width     int
	height    int
	frameRate int
	bitrate   int
}

// NewFFmpegEngine validates that the encoder binary exists and returns the
// engine. A missing binary is fatal at construction.
func NewFFmpegEngine(binPath string, width, height, frameRate, bitrate int) (*FFmpegEngine, error) {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	bin, err := exec.LookPath(binPath)
	if err != nil {
		return nil, fmt.Errorf("h264 codec unavailable: %w", err)
	}
	return &FFmpegEngine{
		bin:       bin,
		width:     width,
		height:    height,
		frameRate: frameRate,
		bitrate:   bitrate,
	}, nil
}

// EncodeGroup implements Engine.
func (e *FFmpegEngine) EncodeGroup(frames [][]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	var in bytes.Buffer
	in.Grow(len(frames) * len(frames[0]))
	for _, f := range frames {
		in.Write(f)
	}

	cmd := exec.Command(e.bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", e.width, e.height),
		"-r", strconv.Itoa(e.frameRate),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-b:v", strconv.Itoa(e.bitrate),
		"-g", strconv.Itoa(e.frameRate),
		"-f", "mpegts",
		"pipe:1",
	)
	cmd.Stdin = &in

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("h264 encode: %w: %s", err, stderr.String())
	}
	return out.Bytes(), nil
}

// Close implements Engine. Per-group processes leave nothing to release.
func (e *FFmpegEngine) Close() error { return nil }
