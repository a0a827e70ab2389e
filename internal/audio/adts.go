package audio

import "errors"

// ErrInvalidADTS is returned when an ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

// adtsHeaderSize is the fixed header length when no CRC is present.
const adtsHeaderSize = 7

// aacProfileLC is the ADTS profile field for AAC-LC (audio object type 2,
// encoded as objectType-1).
const aacProfileLC = 1

// aacSampleRates is the AAC sampling frequency index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// sampleRateIndex returns the ADTS sampling frequency index for rate, or -1
// if the rate is not a codec-supported one.
func sampleRateIndex(rate int) int {
	for i, r := range aacSampleRates {
		if r == rate {
			return i
		}
	}
	return -1
}

// NearestSupportedRate returns the codec-supported sample rate the encoder
// should run at for a requested input rate: the smallest supported rate that
// is >= requested, or the lowest supported rate when the request exceeds
// every table entry.
func NearestSupportedRate(requested int) int {
	best := -1
	for _, r := range aacSampleRates {
		if r >= requested && (best == -1 || r < best) {
			best = r
		}
	}
	if best == -1 {
		best = aacSampleRates[len(aacSampleRates)-1]
	}
	return best
}

// WrapADTS prepends a 7-byte ADTS header (AAC-LC, no CRC) to one elementary
// AAC frame so the frame is decodable without out-of-band configuration.
// The payload is copied into the returned buffer.
func WrapADTS(payload []byte, sampleRate, channels int) ([]byte, error) {
	srIdx := sampleRateIndex(sampleRate)
	if srIdx < 0 {
		return nil, ErrInvalidADTS
	}
	if channels < 1 || channels > 7 {
		return nil, ErrInvalidADTS
	}

	frameLen := adtsHeaderSize + len(payload)
	if frameLen > 0x1FFF {
		return nil, ErrInvalidADTS
	}

	out := make([]byte, frameLen)
	out[0] = 0xFF
	out[1] = 0xF1 // MPEG-4, layer 00, protection absent
	out[2] = byte(aacProfileLC<<6) | byte(srIdx<<2) | byte(channels>>2)&0x01
	out[3] = byte(channels&0x03)<<6 | byte(frameLen>>11)&0x03
	out[4] = byte(frameLen >> 3)
	out[5] = byte(frameLen&0x07)<<5 | 0x1F // buffer fullness high bits (VBR)
	out[6] = 0xFC                          // buffer fullness low bits, one raw block
	copy(out[adtsHeaderSize:], payload)
	return out, nil
}

// ADTSFrame is a single AAC frame parsed out of an ADTS byte stream.
type ADTSFrame struct {
	// Payload is the elementary frame with the header stripped.
	Payload    []byte
	SampleRate int
	Channels   int
}

// ParseADTS splits an ADTS byte stream into elementary AAC frames, skipping
// garbage until a sync word is found. A trailing partial frame is returned as
// the remainder so callers feeding a stream can retry once more bytes arrive.
func ParseADTS(data []byte) (frames []ADTSFrame, rest []byte, err error) {
	offset := 0

	for offset < len(data) {
		if len(data)-offset < adtsHeaderSize {
			break
		}

		// Sync word: 0xFFF.
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		headerSize := adtsHeaderSize
		if data[offset+1]&0x01 == 0 { // CRC present
			headerSize = 9
		}

		srIdx := int(data[offset+2]>>2) & 0x0F
		if srIdx >= len(aacSampleRates) {
			return frames, nil, ErrInvalidADTS
		}
		channels := int(data[offset+2]&0x01)<<2 | int(data[offset+3]>>6)&0x03

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)
		if frameLen < headerSize {
			return frames, nil, ErrInvalidADTS
		}
		if offset+frameLen > len(data) {
			break // truncated: keep as remainder
		}

		frames = append(frames, ADTSFrame{
			Payload:    data[offset+headerSize : offset+frameLen],
			SampleRate: aacSampleRates[srIdx],
			Channels:   channels,
		})
		offset += frameLen
	}

	return frames, data[offset:], nil
}
