package webpfile

import (
	"errors"
	"fmt"
	"os"
)

// ErrNotWebP is returned when a file is not a RIFF/WEBP container.
var ErrNotWebP = errors.New("not a WebP file")

// ErrMalformed is returned when the container is recognized but its chunk
// structure cannot be parsed.
var ErrMalformed = errors.New("malformed WebP container")

// Frame is one ANMF animation frame with its placement and timing metadata.
type Frame struct {
	OffsetX           int
	OffsetY           int
	Width             int
	Height            int
	DurationMS        int
	DisposeBackground bool
	Blend             bool

	data []byte
}

// Info is the probe result for a WebP asset.
type Info struct {
	Animated   bool
	Width      int
	Height     int
	FrameCount int
	// Duration is the total animation length in seconds. Zero for static
	// inputs; callers supply a synthetic duration for those.
	Duration  float64
	FrameRate float64
	Frames    []Frame
}

// Probe reads and parses a WebP file from disk. Unreadable files and
// unrecognized containers are fatal for the owning job.
func Probe(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %q: %w", path, err)
	}

	info, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", path, err)
	}
	return info, nil
}

// Parse interprets a WebP byte stream and extracts animation metadata.
func Parse(data []byte) (*Info, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, ErrNotWebP
	}

	info := &Info{}
	err := walkChunks(data[12:], func(fourCC string, payload []byte) error {
		switch fourCC {
		case "VP8X":
			if len(payload) < 10 {
				return fmt.Errorf("%w: short VP8X chunk", ErrMalformed)
			}
			info.Width = int(readUint24(payload[4:7])) + 1
			info.Height = int(readUint24(payload[7:10])) + 1
		case "ANMF":
			frame, err := parseFrame(payload)
			if err != nil {
				return err
			}
			info.Frames = append(info.Frames, frame)
		case "VP8 ":
			if info.Width == 0 {
				w, h, ok := lossyDimensions(payload)
				if ok {
					info.Width, info.Height = w, h
				}
			}
		case "VP8L":
			if info.Width == 0 {
				w, h, ok := losslessDimensions(payload)
				if ok {
					info.Width, info.Height = w, h
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	info.FrameCount = len(info.Frames)
	info.Animated = info.FrameCount > 0

	totalMS := 0
	for _, f := range info.Frames {
		totalMS += f.DurationMS
	}
	if totalMS > 0 {
		info.Duration = float64(totalMS) / 1000.0
		info.FrameRate = float64(info.FrameCount) / info.Duration
	}

	return info, nil
}

// parseFrame decodes the fixed 16-byte ANMF header and keeps the trailing
// frame bitstream for standalone extraction.
func parseFrame(payload []byte) (Frame, error) {
	if len(payload) < 16 {
		return Frame{}, fmt.Errorf("%w: short ANMF chunk", ErrMalformed)
	}

	flags := payload[15]
	frame := Frame{
		// Frame offsets are stored in two-pixel units.
		OffsetX:           int(readUint24(payload[0:3])) * 2,
		OffsetY:           int(readUint24(payload[3:6])) * 2,
		Width:             int(readUint24(payload[6:9])) + 1,
		Height:            int(readUint24(payload[9:12])) + 1,
		DurationMS:        int(readUint24(payload[12:15])),
		Blend:             flags&0x02 == 0,
		DisposeBackground: flags&0x01 != 0,
		data:              payload[16:],
	}
	return frame, nil
}
