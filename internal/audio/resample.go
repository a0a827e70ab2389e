package audio

// Resampler converts interleaved float32 audio between sample rates and
// channel counts ahead of the codec engine. It keeps a one-frame delay line
// so interpolation is continuous across Process calls; Drain flushes that
// state at end of stream.
//
// Conversion is linear interpolation, which is adequate for the speech-heavy
// capture content this pipeline carries.
type Resampler struct {
	inRate  int
	outRate int
	inCh    int
	outCh   int

	step   float64 // input frames advanced per output frame
	pos    float64 // fractional position between prev and the next frame
	prev   []float32
	cur    []float32
	primed bool
}

// NewResampler returns a resampler from (inRate, inCh) interleaved samples to
// (outRate, outCh) interleaved samples.
func NewResampler(inRate, inCh, outRate, outCh int) *Resampler {
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		inCh:    inCh,
		outCh:   outCh,
		step:    float64(inRate) / float64(outRate),
		prev:    make([]float32, outCh),
		cur:     make([]float32, outCh),
	}
}

// Passthrough reports whether the resampler is an identity conversion.
func (r *Resampler) Passthrough() bool {
	return r.inRate == r.outRate && r.inCh == r.outCh
}

// Process converts one chunk of interleaved samples. The input length must be
// a multiple of the input channel count. Output length varies call to call as
// the fractional read position advances.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	frames := len(in) / r.inCh
	est := int(float64(frames)/r.step) + 2
	out := make([]float32, 0, est*r.outCh)

	for f := 0; f < frames; f++ {
		r.mixFrame(in[f*r.inCh : (f+1)*r.inCh])
		if !r.primed {
			copy(r.prev, r.cur)
			r.primed = true
			continue
		}
		for r.pos < 1 {
			frac := float32(r.pos)
			for c := 0; c < r.outCh; c++ {
				out = append(out, r.prev[c]+(r.cur[c]-r.prev[c])*frac)
			}
			r.pos += r.step
		}
		r.pos--
		copy(r.prev, r.cur)
	}
	return out
}

// Drain flushes the delay line, emitting the output frames that still fall
// between the last seen input frame and end of stream (the last frame is
// held). The resampler must not be used after Drain.
func (r *Resampler) Drain() []float32 {
	if r.Passthrough() || !r.primed {
		return nil
	}
	var out []float32
	for r.pos < 1 {
		out = append(out, r.prev...)
		r.pos += r.step
	}
	return out
}

// mixFrame converts one interleaved input frame into r.cur at the output
// channel count: average for downmix to mono, duplicate for mono-to-stereo,
// nearest-channel copy otherwise.
func (r *Resampler) mixFrame(frame []float32) {
	switch {
	case r.inCh == r.outCh:
		copy(r.cur, frame)
	case r.outCh == 1:
		var sum float32
		for _, s := range frame {
			sum += s
		}
		r.cur[0] = sum / float32(r.inCh)
	default:
		for c := 0; c < r.outCh; c++ {
			src := c
			if src >= r.inCh {
				src = r.inCh - 1
			}
			r.cur[c] = frame[src]
		}
	}
}

// Deinterleave splits interleaved samples into canonical planar form
// (one slice per channel), the layout codec engines consume.
func Deinterleave(in []float32, channels int) [][]float32 {
	frames := len(in) / channels
	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			planes[c][f] = in[f*channels+c]
		}
	}
	return planes
}
