package convert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"webpconv/internal/webpfile"
)

// compositeShare is the percentage span consumed by frame compositing; the
// remaining span belongs to the image-sequence encode.
const compositeShare = 80.0

// runFallback rebuilds an animated WebP frame by frame when the direct
// invocation failed: each ANMF frame is rewrapped, decoded, composited onto
// the canvas honoring blend/dispose flags, and the resulting PNG sequence is
// encoded with per-frame durations. Returns the invocation attempts made for
// the failure report.
func (e *Engine) runFallback(ctx context.Context, workDir string, req Request, info *webpfile.Info, outputPath string, emit func(percent float64)) ([]attempt, error) {
	settings := req.Dispatch.Settings
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("fallback: canvas size unknown")
	}

	background := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	if c, ok := ParseHexColor(settings.Background); ok {
		background = c
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, info.Width, info.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	type composedFrame struct {
		Path       string
		DurationMS int
	}
	frames := make([]composedFrame, 0, len(info.Frames))

	for i := range info.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame := &info.Frames[i]

		data, err := frame.Standalone()
		if err != nil {
			return nil, fmt.Errorf("fallback: extract frame %d: %w", i+1, err)
		}
		img, err := e.decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("fallback: decode frame %d: %w", i+1, err)
		}

		rect := image.Rect(frame.OffsetX, frame.OffsetY, frame.OffsetX+frame.Width, frame.OffsetY+frame.Height)
		op := draw.Src
		if frame.Blend {
			op = draw.Over
		}
		draw.Draw(canvas, rect, img, img.Bounds().Min, op)

		path := filepath.Join(workDir, fmt.Sprintf("composed_%04d.png", i+1))
		if err := writePNG(path, canvas); err != nil {
			return nil, fmt.Errorf("fallback: write frame %d: %w", i+1, err)
		}

		durationMS := frame.DurationMS
		if len(info.Frames) == 1 {
			durationMS = int(settings.StaticDuration * 1000)
		}
		frames = append(frames, composedFrame{Path: path, DurationMS: durationMS})

		if frame.DisposeBackground {
			draw.Draw(canvas, rect, image.Transparent, image.Point{}, draw.Src)
		}

		emit(float64(i+1) / float64(len(info.Frames)) * compositeShare)
	}

	quality := settings.Quality
	if req.Options.Quality != "" {
		quality = req.Options.Quality
	}
	fps := settings.FPS
	if req.Options.FPS > 0 {
		fps = req.Options.FPS
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	vsync := "vfr"
	totalMS := 0
	for _, f := range frames {
		totalMS += f.DurationMS
	}

	switch {
	case fps > 0 && len(frames) == 1:
		args = append(args,
			"-loop", "1",
			"-t", formatFloat(settings.StaticDuration),
			"-i", frames[0].Path,
		)
		vsync = "cfr"
	case fps > 0:
		args = append(args,
			"-framerate", strconv.Itoa(fps),
			"-i", filepath.Join(workDir, "composed_%04d.png"),
		)
		vsync = "cfr"
	default:
		concatPath := filepath.Join(workDir, "concat.txt")
		var list strings.Builder
		for _, f := range frames {
			fmt.Fprintf(&list, "file '%s'\n", escapeConcatPath(f.Path))
			if f.DurationMS > 0 {
				fmt.Fprintf(&list, "duration %.6f\n", float64(f.DurationMS)/1000.0)
			}
		}
		// Concat demuxer ignores the last duration unless the final entry
		// is repeated.
		fmt.Fprintf(&list, "file '%s'\n", escapeConcatPath(frames[len(frames)-1].Path))
		if err := os.WriteFile(concatPath, []byte(list.String()), 0o644); err != nil {
			return nil, fmt.Errorf("fallback: write concat list: %w", err)
		}
		args = append(args, "-f", "concat", "-safe", "0", "-i", concatPath)
	}

	args = append(args, encodeArgs(quality, "pad=ceil(iw/2)*2:ceil(ih/2)*2", vsync)...)
	args = append(args, "-progress", "pipe:1", "-nostats", "-y", outputPath)

	tracker := newProgressTracker(float64(totalMS)/1000.0, func(p float64) {
		emit(compositeShare + p*(100-compositeShare)/100)
	})

	result, runErr := e.runner.Run(ctx, e.ffmpegPath, args, tracker.Line)
	made := []attempt{{Name: e.ffmpegPath, Args: args, Output: result.Output, Err: runErr}}
	if runErr != nil {
		return made, fmt.Errorf("fallback encode: %w", runErr)
	}
	return made, nil
}

// writePNG saves the current canvas state to disk.
func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// escapeConcatPath quotes single quotes for the concat demuxer list format.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
