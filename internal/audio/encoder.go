// Package audio turns a stream of interleaved float32 samples into
// fixed-duration, independently decodable AAC segments. The segmenting and
// framing logic is deterministic and engine-agnostic; the codec itself sits
// behind the Engine interface.
package audio

import (
	"fmt"
	"log/slog"
	"time"

	"streamcap/internal/media"
)

// Encoder accumulates raw samples and emits one AAC segment per configured
// nominal duration. It is single-owner: exactly one goroutine may call
// Submit and Flush.
type Encoder struct {
	cfg       media.AudioConfig
	engine    Engine
	resampler *Resampler
	codecRate int
	log       *slog.Logger

	// backlog holds resampled interleaved samples not yet assigned to a
	// segment; carry holds the sub-frame remainder at the codec boundary,
	// retained between segments rather than dropped.
	backlog []float32
	carry   []float32

	seq        uint64
	consumed   int64 // per-channel samples consumed at the codec rate
	baseMillis int64
}

// NewEncoder builds an audio segment encoder on top of the given codec
// engine. The engine must have been opened for CodecRate(cfg), a rate the
// codec supports that covers the requested one.
func NewEncoder(cfg media.AudioConfig, engine Engine, log *slog.Logger) *Encoder {
	codecRate := CodecRate(cfg)
	return &Encoder{
		cfg:        cfg,
		engine:     engine,
		resampler:  NewResampler(cfg.SampleRate, cfg.Channels, codecRate, cfg.Channels),
		codecRate:  codecRate,
		log:        log,
		baseMillis: time.Now().UnixMilli(),
	}
}

// CodecRate returns the sample rate the codec engine runs at for cfg.
func CodecRate(cfg media.AudioConfig) int {
	return NearestSupportedRate(cfg.SampleRate)
}

// segmentSamples is the interleaved sample count of one full segment at the
// codec rate.
func (e *Encoder) segmentSamples() int {
	return int(float64(e.codecRate)*e.cfg.SegmentDuration) * e.cfg.Channels
}

// Submit adds a chunk of interleaved samples and returns every segment that
// completed as a result. The chunk length must be a multiple of the channel
// count; chunks of any size are accepted and re-chunked internally.
func (e *Encoder) Submit(samples []float32) ([]*media.AudioSegment, error) {
	if len(samples)%e.cfg.Channels != 0 {
		return nil, fmt.Errorf("sample count %d not a multiple of %d channels", len(samples), e.cfg.Channels)
	}

	e.backlog = append(e.backlog, e.resampler.Process(samples)...)

	var segments []*media.AudioSegment
	segSamples := e.segmentSamples()
	for len(e.backlog) >= segSamples {
		chunk := e.backlog[:segSamples]
		e.backlog = e.backlog[segSamples:]

		seg, err := e.encodeSegment(chunk, e.cfg.SegmentDuration)
		if err != nil {
			// The segment's output is dropped; the remaining backlog is
			// intact and the next segment starts cleanly.
			return segments, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// Flush pads any remaining backlog to a full segment with silence and encodes
// it, then drains the resampler and the codec's internal buffering. Residual
// codec frames come back as zero-duration trailing segments, since they
// represent encoder latency rather than new audio.
func (e *Encoder) Flush() ([]*media.AudioSegment, error) {
	var segments []*media.AudioSegment

	tail := e.resampler.Drain()
	if len(tail) > 0 {
		e.backlog = append(e.backlog, tail...)
	}

	if len(e.backlog) > 0 {
		segSamples := e.segmentSamples()
		chunk := make([]float32, segSamples)
		copy(chunk, e.backlog)
		e.backlog = nil

		seg, err := e.encodeSegment(chunk, e.cfg.SegmentDuration)
		if err != nil {
			return segments, err
		}
		segments = append(segments, seg)
	}

	// Push the sub-frame remainder through as one final padded codec frame,
	// then drain the codec.
	if len(e.carry) > 0 {
		frame := make([]float32, e.engine.FrameSize()*e.cfg.Channels)
		copy(frame, e.carry)
		e.carry = nil
		payloads, err := e.engine.Encode(Deinterleave(frame, e.cfg.Channels))
		if err != nil {
			return segments, fmt.Errorf("encode final frame: %w", err)
		}
		if seg := e.fragmentFrom(payloads); seg != nil {
			segments = append(segments, seg)
		}
	}

	residual, err := e.engine.Drain()
	if err != nil {
		return segments, fmt.Errorf("drain codec: %w", err)
	}
	for _, payload := range residual {
		seg := e.fragmentFrom([][]byte{payload})
		if seg != nil {
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

// encodeSegment feeds one segment's worth of interleaved samples through the
// codec in whole codec frames and wraps every elementary frame in ADTS. The
// sequence number is assigned only on success, so a failed segment leaves no
// gap.
func (e *Encoder) encodeSegment(chunk []float32, duration float64) (*media.AudioSegment, error) {
	frameSamples := e.engine.FrameSize() * e.cfg.Channels

	// The carry is staged locally and committed only on success, so a failed
	// chunk's residue never bleeds into the next segment.
	carry := make([]float32, 0, len(e.carry)+len(chunk))
	carry = append(carry, e.carry...)
	carry = append(carry, chunk...)

	var data []byte
	for len(carry) >= frameSamples {
		frame := carry[:frameSamples]
		carry = carry[frameSamples:]

		payloads, err := e.engine.Encode(Deinterleave(frame, e.cfg.Channels))
		if err != nil {
			return nil, fmt.Errorf("encode segment %d: %w", e.seq, err)
		}
		wrapped, err := e.wrapAll(payloads)
		if err != nil {
			return nil, err
		}
		data = append(data, wrapped...)
	}

	e.carry = carry

	seg := &media.AudioSegment{
		Data:       data,
		Sequence:   e.seq,
		Duration:   duration,
		Timestamp:  e.baseMillis + e.consumed*1000/int64(e.codecRate),
		SampleRate: e.codecRate,
		Channels:   e.cfg.Channels,
	}
	e.seq++
	e.consumed += int64(len(chunk) / e.cfg.Channels)

	e.log.Debug("encoded audio segment",
		"sequence", seg.Sequence,
		"bytes", len(seg.Data),
		"duration", seg.Duration,
	)
	return seg, nil
}

// fragmentFrom builds a zero-duration trailing segment from residual codec
// output. Returns nil when the payloads wrap to nothing.
func (e *Encoder) fragmentFrom(payloads [][]byte) *media.AudioSegment {
	wrapped, err := e.wrapAll(payloads)
	if err != nil || len(wrapped) == 0 {
		if err != nil {
			e.log.Warn("dropping residual codec frame", "error", err)
		}
		return nil
	}
	seg := &media.AudioSegment{
		Data:       wrapped,
		Sequence:   e.seq,
		Duration:   0,
		Timestamp:  e.baseMillis + e.consumed*1000/int64(e.codecRate),
		SampleRate: e.codecRate,
		Channels:   e.cfg.Channels,
	}
	e.seq++
	return seg
}

// wrapAll ADTS-wraps each elementary frame and concatenates them.
func (e *Encoder) wrapAll(payloads [][]byte) ([]byte, error) {
	var out []byte
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		frame, err := WrapADTS(p, e.codecRate, e.cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("frame segment %d: %w", e.seq, err)
		}
		out = append(out, frame...)
	}
	return out, nil
}

// Close releases the codec engine. The encoder must not be used afterwards.
func (e *Encoder) Close() error {
	return e.engine.Close()
}
