package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"
)

// aacFrameSize is the number of samples per channel in one AAC codec frame.
const aacFrameSize = 1024

// ErrEngineClosed is returned by Encode after the engine has been drained.
var ErrEngineClosed = errors.New("audio engine closed")

// Engine is the AAC codec backend. The segment encoder feeds it canonical
// planar float32 frames of exactly FrameSize samples per channel and receives
// elementary (headerless) AAC frames back. Codecs buffer internally, so one
// input frame may yield zero frames now and extra frames at Drain.
type Engine interface {
	// FrameSize returns the samples-per-channel granularity the engine
	// requires per Encode call.
	FrameSize() int
	// Encode consumes one codec frame and returns any elementary frames the
	// codec has completed so far.
	Encode(planes [][]float32) ([][]byte, error)
	// Drain flushes the codec's internal buffering and returns the residual
	// elementary frames. The engine is unusable afterwards.
	Drain() ([][]byte, error)
	Close() error
}

// FFmpegEngine encodes AAC by piping raw samples through a long-running
// ffmpeg process and parsing the ADTS stream it emits back into elementary
// frames. One process lives per session, mirroring how the rest of the
// pipeline treats external encoders.
type FFmpegEngine struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *slog.Logger

	mu      sync.Mutex
	pending [][]byte
	readErr error

	done    chan struct{}
	drained bool
}

// NewFFmpegEngine starts an ffmpeg AAC encoder for the given output rate,
// channel count, and bitrate. A missing or unstartable binary is fatal and
// surfaced here, at construction.
func NewFFmpegEngine(binPath string, sampleRate, channels, bitrate int, log *slog.Logger) (*FFmpegEngine, error) {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	bin, err := exec.LookPath(binPath)
	if err != nil {
		return nil, fmt.Errorf("aac codec unavailable: %w", err)
	}

	cmd := exec.Command(bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(bitrate),
		"-f", "adts",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start aac encoder: %w", err)
	}

	e := &FFmpegEngine{
		cmd:   cmd,
		stdin: stdin,
		log:   log,
		done:  make(chan struct{}),
	}
	go e.readLoop(stdout)
	return e, nil
}

// FrameSize implements Engine.
func (e *FFmpegEngine) FrameSize() int { return aacFrameSize }

// Encode implements Engine: interleaves the planes, writes them to the
// encoder, and returns whatever complete frames have arrived on stdout.
func (e *FFmpegEngine) Encode(planes [][]float32) ([][]byte, error) {
	if e.drained {
		return nil, ErrEngineClosed
	}

	buf := interleaveLE(planes)
	if _, err := e.stdin.Write(buf); err != nil {
		return nil, fmt.Errorf("write to aac encoder: %w", err)
	}
	return e.take(), nil
}

// Drain implements Engine: closes the encoder's input, waits for it to flush,
// and returns the residual frames.
func (e *FFmpegEngine) Drain() ([][]byte, error) {
	if e.drained {
		return nil, ErrEngineClosed
	}
	e.drained = true

	if err := e.stdin.Close(); err != nil {
		e.log.Warn("closing encoder stdin", "error", err)
	}
	<-e.done

	e.mu.Lock()
	err := e.readErr
	e.mu.Unlock()
	if err != nil && !errors.Is(err, io.EOF) {
		return e.take(), fmt.Errorf("aac encoder output: %w", err)
	}
	return e.take(), nil
}

// Close reaps the ffmpeg process. Safe to call after Drain.
func (e *FFmpegEngine) Close() error {
	if !e.drained {
		_ = e.stdin.Close()
	}
	return e.cmd.Wait()
}

// readLoop parses the encoder's ADTS output stream into elementary frames as
// bytes arrive, keeping any trailing partial frame for the next read.
func (e *FFmpegEngine) readLoop(stdout io.Reader) {
	defer close(e.done)

	var stream []byte
	chunk := make([]byte, 16*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			stream = append(stream, chunk[:n]...)
			frames, rest, perr := ParseADTS(stream)
			if perr != nil {
				e.setReadErr(perr)
				return
			}
			stream = append(stream[:0], rest...)
			if len(frames) > 0 {
				e.mu.Lock()
				for _, f := range frames {
					payload := make([]byte, len(f.Payload))
					copy(payload, f.Payload)
					e.pending = append(e.pending, payload)
				}
				e.mu.Unlock()
			}
		}
		if err != nil {
			e.setReadErr(err)
			return
		}
	}
}

func (e *FFmpegEngine) setReadErr(err error) {
	e.mu.Lock()
	e.readErr = err
	e.mu.Unlock()
}

// take removes and returns all frames collected so far.
func (e *FFmpegEngine) take() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// interleaveLE packs planar float32 frames into the interleaved
// little-endian byte layout raw f32le input expects.
func interleaveLE(planes [][]float32) []byte {
	if len(planes) == 0 {
		return nil
	}
	frames := len(planes[0])
	out := make([]byte, 0, frames*len(planes)*4)
	var scratch [4]byte
	for f := 0; f < frames; f++ {
		for _, p := range planes {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(p[f]))
			out = append(out, scratch[:]...)
		}
	}
	return out
}
