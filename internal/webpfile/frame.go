package webpfile

import "fmt"

// Standalone rewraps the frame's bitstream as an independent WebP file so a
// regular decoder can read it outside the animation container.
func (f *Frame) Standalone() ([]byte, error) {
	var alph, bitstream []byte
	var bitstreamCC string

	err := walkChunks(f.data, func(fourCC string, payload []byte) error {
		switch fourCC {
		case "ALPH":
			alph = payload
		case "VP8 ", "VP8L":
			if bitstream == nil {
				bitstreamCC = fourCC
				bitstream = payload
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if bitstream == nil {
		return nil, fmt.Errorf("%w: frame has no image bitstream", ErrMalformed)
	}

	var body []byte
	if alph != nil && bitstreamCC == "VP8 " {
		// Lossy frames with a separate alpha plane need a VP8X header
		// announcing the alpha feature.
		vp8x := make([]byte, 10)
		vp8x[0] = 0x10
		writeUint24(vp8x[4:7], uint32(f.Width-1))
		writeUint24(vp8x[7:10], uint32(f.Height-1))
		body = appendChunk(body, "VP8X", vp8x)
		body = appendChunk(body, "ALPH", alph)
	}
	body = appendChunk(body, bitstreamCC, bitstream)

	out := make([]byte, 0, len(body)+12)
	out = append(out, "RIFF"...)
	out = appendUint32(out, uint32(len(body)+4))
	out = append(out, "WEBP"...)
	out = append(out, body...)
	return out, nil
}

// appendChunk serializes one RIFF chunk with even-size padding.
func appendChunk(dst []byte, fourCC string, payload []byte) []byte {
	dst = append(dst, fourCC...)
	dst = appendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	if len(payload)%2 == 1 {
		dst = append(dst, 0)
	}
	return dst
}

// appendUint32 appends a little-endian 32-bit value.
func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// writeUint24 stores a little-endian 24-bit value.
func writeUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
