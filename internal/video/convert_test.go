package video

import "testing"

func TestYUV420PSize(t *testing.T) {
	tests := []struct {
		w, h, want int
	}{
		{2, 2, 6},
		{4, 4, 24},
		{1920, 1080, 3110400},
	}
	for _, tt := range tests {
		if got := YUV420PSize(tt.w, tt.h); got != tt.want {
			t.Errorf("YUV420PSize(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

// packedFrame builds a w x h frame of a single packed color.
func packedFrame(w, h int, c0, c1, c2, c3 byte) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = c0, c1, c2, c3
	}
	return out
}

func TestRGBAToYUV420P_black_and_white(t *testing.T) {
	w, h := 4, 4
	ySize := w * h

	// Limited range: black maps to luma 16, white to 235; both are neutral
	// in chroma (128).
	black := RGBAToYUV420P(packedFrame(w, h, 0, 0, 0, 255), w, h)
	white := RGBAToYUV420P(packedFrame(w, h, 255, 255, 255, 255), w, h)

	if black[0] != 16 {
		t.Errorf("black luma = %d, want 16", black[0])
	}
	if white[0] != 235 {
		t.Errorf("white luma = %d, want 235", white[0])
	}
	for _, frame := range [][]byte{black, white} {
		for i := ySize; i < len(frame); i++ {
			if d := int(frame[i]) - 128; d < -1 || d > 1 {
				t.Fatalf("chroma[%d] = %d, want ~128", i-ySize, frame[i])
			}
		}
	}
}

func TestRGBAToYUV420P_red(t *testing.T) {
	w, h := 2, 2
	out := RGBAToYUV420P(packedFrame(w, h, 255, 0, 0, 255), w, h)

	// BT.601: pure red is luma ~81, Cb ~90, Cr ~240.
	if d := int(out[0]) - 81; d < -1 || d > 1 {
		t.Errorf("red luma = %d, want ~81", out[0])
	}
	if d := int(out[4]) - 90; d < -1 || d > 1 {
		t.Errorf("red Cb = %d, want ~90", out[4])
	}
	if d := int(out[5]) - 240; d < -1 || d > 1 {
		t.Errorf("red Cr = %d, want ~240", out[5])
	}
}

func TestBGRAToYUV420P_matches_swapped_RGBA(t *testing.T) {
	w, h := 2, 2
	rgba := packedFrame(w, h, 10, 20, 30, 255)
	bgra := packedFrame(w, h, 30, 20, 10, 255)

	a := RGBAToYUV420P(rgba, w, h)
	b := BGRAToYUV420P(bgra, w, h)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d differs: rgba=%d bgra=%d", i, a[i], b[i])
		}
	}
}

func TestPackedToYUV420P_output_size(t *testing.T) {
	w, h := 6, 4
	out := PackedToYUV420P(packedFrame(w, h, 1, 2, 3, 255), w, h, 0, 1, 2)
	if len(out) != YUV420PSize(w, h) {
		t.Errorf("output size = %d, want %d", len(out), YUV420PSize(w, h))
	}
}
