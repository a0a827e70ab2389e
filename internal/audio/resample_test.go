package audio

import (
	"math"
	"testing"
)

func TestResampler_passthrough(t *testing.T) {
	r := NewResampler(48000, 2, 48000, 2)
	if !r.Passthrough() {
		t.Fatal("expected passthrough for identical formats")
	}
	in := []float32{0.1, 0.2, 0.3, 0.4}
	out := r.Process(in)
	if len(out) != len(in) {
		t.Fatalf("out = %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
	if got := r.Drain(); len(got) != 0 {
		t.Errorf("passthrough drain = %d samples, want 0", len(got))
	}
}

func TestResampler_mono_to_stereo_conserves_frames(t *testing.T) {
	r := NewResampler(48000, 1, 48000, 2)
	in := []float32{1, 2, 3, 4}

	out := r.Process(in)
	out = append(out, r.Drain()...)

	if len(out) != len(in)*2 {
		t.Fatalf("out = %d samples, want %d", len(out), len(in)*2)
	}
	for f := 0; f < len(in); f++ {
		if out[f*2] != in[f] || out[f*2+1] != in[f] {
			t.Errorf("frame %d = (%f, %f), want duplicated %f", f, out[f*2], out[f*2+1], in[f])
		}
	}
}

func TestResampler_stereo_to_mono_averages(t *testing.T) {
	r := NewResampler(48000, 2, 48000, 1)
	in := []float32{0.0, 1.0, 0.5, 0.5}

	out := r.Process(in)
	out = append(out, r.Drain()...)

	if len(out) != 2 {
		t.Fatalf("out = %d frames, want 2", len(out))
	}
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("out = %v, want [0.5 0.5]", out)
	}
}

func TestResampler_rate_conversion_count(t *testing.T) {
	tests := []struct {
		name    string
		inRate  int
		outRate int
		frames  int
	}{
		{"downsample_halve", 48000, 24000, 4800},
		{"upsample", 44100, 48000, 4410},
		{"slight_up", 44000, 44100, 4400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResampler(tt.inRate, 1, tt.outRate, 1)
			in := make([]float32, tt.frames)
			for i := range in {
				in[i] = 1.0
			}
			out := r.Process(in)
			out = append(out, r.Drain()...)

			want := float64(tt.frames) * float64(tt.outRate) / float64(tt.inRate)
			if math.Abs(float64(len(out))-want) > 2 {
				t.Errorf("out = %d frames, want ~%.0f", len(out), want)
			}
			for i, s := range out {
				if s != 1.0 {
					t.Fatalf("out[%d] = %f, want 1.0 (interpolating a constant)", i, s)
				}
			}
		})
	}
}

func TestResampler_interpolates_between_frames(t *testing.T) {
	// Doubling the rate emits the midpoint between consecutive inputs.
	r := NewResampler(24000, 1, 48000, 1)
	out := r.Process([]float32{0, 1, 2})

	for i, s := range out {
		want := float32(i) * 0.5
		if math.Abs(float64(s-want)) > 1e-6 {
			t.Errorf("out[%d] = %f, want %f", i, s, want)
		}
	}
}

func TestDeinterleave(t *testing.T) {
	planes := Deinterleave([]float32{1, 10, 2, 20, 3, 30}, 2)
	if len(planes) != 2 {
		t.Fatalf("planes = %d, want 2", len(planes))
	}
	wantL := []float32{1, 2, 3}
	wantR := []float32{10, 20, 30}
	for i := range wantL {
		if planes[0][i] != wantL[i] || planes[1][i] != wantR[i] {
			t.Errorf("frame %d = (%f, %f), want (%f, %f)", i, planes[0][i], planes[1][i], wantL[i], wantR[i])
		}
	}
}
