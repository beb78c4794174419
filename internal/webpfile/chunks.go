package webpfile

import "fmt"

// walkChunks iterates the RIFF chunk list, invoking fn with each chunk's
// FourCC and payload. Chunk payloads are padded to even sizes on disk.
func walkChunks(data []byte, fn func(fourCC string, payload []byte) error) error {
	for len(data) > 0 {
		if len(data) < 8 {
			return fmt.Errorf("%w: truncated chunk header", ErrMalformed)
		}

		fourCC := string(data[0:4])
		size := int(readUint32(data[4:8]))
		data = data[8:]
		if size > len(data) {
			return fmt.Errorf("%w: chunk %q exceeds container", ErrMalformed, fourCC)
		}

		if err := fn(fourCC, data[:size]); err != nil {
			return err
		}

		if size%2 == 1 {
			size++
		}
		if size > len(data) {
			break
		}
		data = data[size:]
	}
	return nil
}

// lossyDimensions extracts canvas size from a VP8 keyframe bitstream.
func lossyDimensions(payload []byte) (int, int, bool) {
	if len(payload) < 10 {
		return 0, 0, false
	}
	// Keyframe start code after the 3-byte frame tag.
	if payload[3] != 0x9d || payload[4] != 0x01 || payload[5] != 0x2a {
		return 0, 0, false
	}
	w := int(uint16(payload[6])|uint16(payload[7])<<8) & 0x3fff
	h := int(uint16(payload[8])|uint16(payload[9])<<8) & 0x3fff
	return w, h, true
}

// losslessDimensions extracts canvas size from a VP8L bitstream.
func losslessDimensions(payload []byte) (int, int, bool) {
	if len(payload) < 5 || payload[0] != 0x2f {
		return 0, 0, false
	}
	bits := uint32(payload[1]) | uint32(payload[2])<<8 | uint32(payload[3])<<16 | uint32(payload[4])<<24
	w := int(bits&0x3fff) + 1
	h := int(bits>>14&0x3fff) + 1
	return w, h, true
}

// readUint24 reads a little-endian 24-bit value.
func readUint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// readUint32 reads a little-endian 32-bit value.
func readUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
