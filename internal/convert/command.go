package convert

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"webpconv/internal/domain"
	"webpconv/internal/webpfile"
)

// ErrInvalidOptions is returned when job options and batch settings cannot
// produce a runnable invocation.
var ErrInvalidOptions = errors.New("invalid conversion options")

const (
	videoCodec    = "libx264"
	encoderPreset = "slow"
	audioCodec    = "aac"
	audioBitrate  = "128k"

	// staticFPS is the synthetic framerate used when looping a static image
	// and no override is configured.
	staticFPS = 30
)

// Invocation is a fully-specified encode command. Identical inputs always
// produce an identical invocation, so tests never need a real process.
type Invocation struct {
	Args       []string
	OutputPath string
	// TotalDuration is the expected output length in seconds, used to turn
	// encoder progress timestamps into a percentage.
	TotalDuration float64
}

// BuildInvocation maps job options, probe results, and the settings snapshot
// into ffmpeg arguments for a direct conversion.
func BuildInvocation(sourcePath, outputPath string, info *webpfile.Info, opts domain.JobOptions, settings domain.Settings) (Invocation, error) {
	if opts.FPS < 0 || settings.FPS < 0 {
		return Invocation{}, fmt.Errorf("%w: negative framerate", ErrInvalidOptions)
	}

	switch settings.Format {
	case domain.FormatMP4, domain.FormatMOV:
	default:
		return Invocation{}, fmt.Errorf("%w: unknown container %q", ErrInvalidOptions, settings.Format)
	}

	quality := settings.Quality
	if opts.Quality != "" {
		quality = opts.Quality
	}

	fps := settings.FPS
	if opts.FPS > 0 {
		fps = opts.FPS
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	var total float64
	if info.Animated {
		total = info.Duration
		if fps > 0 {
			args = append(args, "-r", strconv.Itoa(fps))
		} else if info.FrameRate > 0 {
			args = append(args, "-r", formatFloat(info.FrameRate))
		}
	} else {
		if settings.StaticDuration <= 0 {
			return Invocation{}, fmt.Errorf("%w: static duration must be positive", ErrInvalidOptions)
		}
		total = settings.StaticDuration
		if fps <= 0 {
			fps = staticFPS
		}
		args = append(args,
			"-loop", "1",
			"-t", formatFloat(settings.StaticDuration),
			"-r", strconv.Itoa(fps),
		)
	}

	args = append(args, "-i", sourcePath)
	args = append(args, encodeArgs(quality, buildFilter(settings.Background), "")...)
	args = append(args, "-progress", "pipe:1", "-nostats", "-y", outputPath)

	return Invocation{
		Args:          args,
		OutputPath:    outputPath,
		TotalDuration: total,
	}, nil
}

// encodeArgs is the shared H.264 encode tail used by the direct and the
// frame-sequence paths.
func encodeArgs(quality domain.QualityPreset, filter, vsync string) []string {
	args := []string{
		"-c:v", videoCodec,
		"-pix_fmt", "yuv420p",
		"-profile:v", "high",
		"-level", "4.1",
		"-vf", filter,
	}
	if vsync != "" {
		args = append(args, "-vsync", vsync)
	}
	args = append(args,
		"-tune", "animation",
		"-preset", encoderPreset,
		"-crf", strconv.Itoa(quality.CRF()),
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
	)
	return args
}

// buildFilter produces the video filter chain: an optional background color
// composited under transparent sources, then padding to even dimensions.
func buildFilter(background string) string {
	const pad = "pad=ceil(iw/2)*2:ceil(ih/2)*2"
	if _, ok := ParseHexColor(background); ok {
		hex := strings.TrimPrefix(strings.TrimSpace(background), "#")
		return fmt.Sprintf("format=rgba,color=c=#%s:s=iw:ih[bg];[bg][0:v]overlay=0:0,%s", hex, pad)
	}
	return pad
}

// ParseHexColor parses a #RRGGBB or #RRGGBBAA background color.
func ParseHexColor(value string) (color.NRGBA, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, false
	}

	parts := make([]uint8, 0, 4)
	for i := 0; i+2 <= len(hex); i += 2 {
		v, err := strconv.ParseUint(hex[i:i+2], 16, 8)
		if err != nil {
			return color.NRGBA{}, false
		}
		parts = append(parts, uint8(v))
	}

	out := color.NRGBA{R: parts[0], G: parts[1], B: parts[2], A: 255}
	if len(parts) == 4 {
		out.A = parts[3]
	}
	return out, true
}

// formatFloat renders durations and framerates without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
