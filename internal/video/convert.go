package video

// YUV420PSize returns the byte size of one planar 4:2:0 frame.
func YUV420PSize(width, height int) int {
	return width*height + 2*(width/2)*(height/2)
}

// PackedToYUV420P converts one packed 4-bytes-per-pixel frame (RGBA or BGRA,
// selected by the channel offsets) into canonical planar YUV 4:2:0: a
// full-resolution luma plane followed by quarter-resolution Cb and Cr planes.
// Pure function of width and height; chroma is sampled at even pixel
// positions. BT.601 limited-range coefficients.
func PackedToYUV420P(src []byte, width, height, rOff, gOff, bOff int) []byte {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	out := make([]byte, ySize+2*cSize)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			r := float32(src[i+rOff])
			g := float32(src[i+gOff])
			b := float32(src[i+bOff])

			out[y*width+x] = clampByte(0.257*r + 0.504*g + 0.098*b + 16)

			if x%2 == 0 && y%2 == 0 {
				c := (y/2)*(width/2) + x/2
				out[ySize+c] = clampByte(-0.148*r - 0.291*g + 0.439*b + 128)
				out[ySize+cSize+c] = clampByte(0.439*r - 0.368*g - 0.071*b + 128)
			}
		}
	}
	return out
}

// RGBAToYUV420P converts a packed RGBA frame to planar YUV 4:2:0.
func RGBAToYUV420P(src []byte, width, height int) []byte {
	return PackedToYUV420P(src, width, height, 0, 1, 2)
}

// BGRAToYUV420P converts a packed BGRA frame to planar YUV 4:2:0.
func BGRAToYUV420P(src []byte, width, height int) []byte {
	return PackedToYUV420P(src, width, height, 2, 1, 0)
}

func clampByte(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
