package convert

import (
	"context"
	"errors"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"webpconv/internal/domain"
	"webpconv/internal/webpfile"
)

// fakeRunner simulates encoder process execution.
type fakeRunner struct {
	run func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
	if f.run == nil {
		return runResult{}, nil
	}
	return f.run(ctx, name, args, onLine)
}

// fakeDecode returns a solid test image regardless of input bytes.
func fakeDecode([]byte) (image.Image, error) {
	return image.NewNRGBA(image.Rect(0, 0, 64, 64)), nil
}

// writeLE24 stores a little-endian 24-bit value.
func writeLE24(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// testChunk serializes one RIFF chunk with padding.
func testChunk(fourCC string, payload []byte) []byte {
	out := []byte(fourCC)
	out = append(out, byte(len(payload)), byte(len(payload)>>8), byte(len(payload)>>16), byte(len(payload)>>24))
	out = append(out, payload...)
	if len(payload)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

// writeAnimatedWebP writes a two-frame animated fixture and returns its path.
func writeAnimatedWebP(t *testing.T, dir string) string {
	t.Helper()

	vp8x := make([]byte, 10)
	vp8x[0] = 0x02
	writeLE24(vp8x[4:7], 63)
	writeLE24(vp8x[7:10], 63)

	frame := func(durationMS int) []byte {
		header := make([]byte, 16)
		writeLE24(header[6:9], 63)
		writeLE24(header[9:12], 63)
		writeLE24(header[12:15], durationMS)
		payload := append(header, testChunk("VP8L", []byte{0x2f, 1, 2, 3})...)
		return testChunk("ANMF", payload)
	}

	body := testChunk("VP8X", vp8x)
	body = append(body, frame(100)...)
	body = append(body, frame(100)...)

	data := []byte("RIFF")
	n := len(body) + 4
	data = append(data, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	data = append(data, "WEBP"...)
	data = append(data, body...)

	path := filepath.Join(dir, "anim.webp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// writeStaticWebP writes a static lossless fixture and returns its path.
func writeStaticWebP(t *testing.T, dir string) string {
	t.Helper()

	body := testChunk("VP8L", []byte{0x2f, 63, 0, 1, 0})
	data := []byte("RIFF")
	n := len(body) + 4
	data = append(data, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	data = append(data, "WEBP"...)
	data = append(data, body...)

	path := filepath.Join(dir, "still.webp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// testRequest builds a request writing output into outDir.
func testRequest(source, outDir string, onProgress func(float64)) Request {
	return Request{
		SourcePath: source,
		Sequence:   1,
		Dispatch: domain.DispatchContext{
			Settings: domain.Settings{
				OutputDir:      outDir,
				Format:         domain.FormatMP4,
				NameTemplate:   "{name}",
				Quality:        domain.QualityBalanced,
				StaticDuration: 1.0,
			},
			At: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		OnProgress: onProgress,
	}
}

// TestEngineRunSuccess checks the direct conversion happy path.
func TestEngineRunSuccess(t *testing.T) {
	root := t.TempDir()
	source := writeAnimatedWebP(t, root)
	outDir := filepath.Join(root, "out")

	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		if name != "ffmpeg-fake" {
			t.Fatalf("binary = %q", name)
		}
		onLine("out_time_us=100000")
		onLine("progress=end")
		out := args[len(args)-1]
		if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return runResult{}, nil
	}}

	var percents []float64
	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	result, err := engine.Run(context.Background(), testRequest(source, outDir, func(p float64) {
		percents = append(percents, p)
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.OutputPath != filepath.Join(outDir, "anim.mp4") {
		t.Fatalf("output = %q", result.OutputPath)
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("progress = %v, want trailing 100", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress regressed: %v", percents)
		}
	}
}

// TestEngineRunRuntimeFailureWritesLog checks failure classification and the
// diagnostic log for a static input (no fallback applies).
func TestEngineRunRuntimeFailureWritesLog(t *testing.T) {
	root := t.TempDir()
	source := writeStaticWebP(t, root)

	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		return runResult{ExitCode: 1, Output: "config warning\npixel format error"}, errors.New("exit status 1")
	}}

	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	_, err := engine.Run(context.Background(), testRequest(source, filepath.Join(root, "out"), nil))

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error = %v, want *EngineError", err)
	}
	if engErr.Stage != StageEncode || engErr.Cancelled {
		t.Fatalf("stage = %q cancelled = %v", engErr.Stage, engErr.Cancelled)
	}
	if !strings.Contains(engErr.Message, "pixel format error") {
		t.Fatalf("message = %q, want trailing stderr line", engErr.Message)
	}

	if engErr.LogPath == "" {
		t.Fatal("expected log path")
	}
	log, readErr := os.ReadFile(engErr.LogPath)
	if readErr != nil {
		t.Fatalf("read log: %v", readErr)
	}
	for _, want := range []string{"failure report", source, "config warning"} {
		if !strings.Contains(string(log), want) {
			t.Fatalf("log missing %q:\n%s", want, log)
		}
	}
}

// TestEngineRunSpawnFailure checks missing-encoder classification.
func TestEngineRunSpawnFailure(t *testing.T) {
	root := t.TempDir()
	source := writeStaticWebP(t, root)

	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		return runResult{ExitCode: -1}, &exec.Error{Name: name, Err: exec.ErrNotFound}
	}}

	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	_, err := engine.Run(context.Background(), testRequest(source, filepath.Join(root, "out"), nil))

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error = %v, want *EngineError", err)
	}
	if engErr.Stage != StageSpawn {
		t.Fatalf("stage = %q, want spawn", engErr.Stage)
	}
	if engErr.LogPath == "" {
		t.Fatal("spawn failures should reference a diagnostic log")
	}
}

// TestEngineRunCancellation checks the distinct cancelled outcome.
func TestEngineRunCancellation(t *testing.T) {
	root := t.TempDir()
	source := writeAnimatedWebP(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		cancel()
		<-ctx.Done()
		return runResult{ExitCode: -1}, ctx.Err()
	}}

	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	_, err := engine.Run(ctx, testRequest(source, filepath.Join(root, "out"), nil))

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error = %v, want *EngineError", err)
	}
	if !engErr.Cancelled {
		t.Fatalf("expected cancelled outcome, got %+v", engErr)
	}
}

// TestEngineRunTimeout checks an expired deadline is reported as a timeout
// with a diagnostic log, distinct from the cancelled outcome.
func TestEngineRunTimeout(t *testing.T) {
	root := t.TempDir()
	source := writeStaticWebP(t, root)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		return runResult{ExitCode: -1}, ctx.Err()
	}}

	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	_, err := engine.Run(ctx, testRequest(source, filepath.Join(root, "out"), nil))

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error = %v, want *EngineError", err)
	}
	if engErr.Stage != StageEncode || engErr.Cancelled {
		t.Fatalf("stage = %q cancelled = %v, want encode timeout", engErr.Stage, engErr.Cancelled)
	}
	if engErr.Message != "conversion timed out" {
		t.Fatalf("message = %q", engErr.Message)
	}
	if engErr.LogPath == "" {
		t.Fatal("expected log path")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

// TestEngineRunFallbackRecovers checks the frame-extraction path after a
// failed direct conversion of an animated input.
func TestEngineRunFallbackRecovers(t *testing.T) {
	root := t.TempDir()
	source := writeAnimatedWebP(t, root)
	outDir := filepath.Join(root, "out")

	call := 0
	var fallbackArgs []string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		call++
		switch call {
		case 1:
			return runResult{ExitCode: 1, Output: "cannot decode"}, errors.New("exit status 1")
		case 2:
			fallbackArgs = append([]string{}, args...)
			out := args[len(args)-1]
			if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
				t.Fatalf("write output: %v", err)
			}
			return runResult{}, nil
		default:
			t.Fatalf("unexpected run call %d", call)
			return runResult{}, nil
		}
	}}

	var percents []float64
	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	result, err := engine.Run(context.Background(), testRequest(source, outDir, func(p float64) {
		percents = append(percents, p)
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if call != 2 {
		t.Fatalf("run calls = %d, want 2", call)
	}
	if result.OutputPath != filepath.Join(outDir, "anim.mp4") {
		t.Fatalf("output = %q", result.OutputPath)
	}
	if !hasArg(fallbackArgs, "concat") {
		t.Fatalf("fallback args = %v, want concat input", fallbackArgs)
	}

	concatPath := argValue(fallbackArgs, "-i")
	if !strings.HasSuffix(concatPath, "concat.txt") {
		t.Fatalf("fallback input = %q, want concat list", concatPath)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress regressed: %v", percents)
		}
	}
}

// TestEngineRunProbeFailure checks unreadable inputs fail with no retryable
// fallback attempt.
func TestEngineRunProbeFailure(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "bad.webp")
	if err := os.WriteFile(source, []byte("not a webp"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	engine := NewEngineForTests("ffmpeg-fake", &fakeRunner{run: func(context.Context, string, []string, func(string)) (runResult, error) {
		t.Fatal("runner should not be invoked")
		return runResult{}, nil
	}}, webpfile.Probe, fakeDecode)

	_, err := engine.Run(context.Background(), testRequest(source, filepath.Join(root, "out"), nil))
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Stage != StageProbe {
		t.Fatalf("error = %v, want probe stage failure", err)
	}
	if !errors.Is(err, webpfile.ErrNotWebP) {
		t.Fatalf("error chain = %v, want ErrNotWebP", err)
	}
}

// TestEngineRunEmptyOutputFails checks the non-empty artifact criterion.
func TestEngineRunEmptyOutputFails(t *testing.T) {
	root := t.TempDir()
	source := writeStaticWebP(t, root)

	runner := &fakeRunner{run: func(ctx context.Context, name string, args []string, onLine func(string)) (runResult, error) {
		out := args[len(args)-1]
		if err := os.WriteFile(out, nil, 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return runResult{}, nil
	}}

	engine := NewEngineForTests("ffmpeg-fake", runner, webpfile.Probe, fakeDecode)
	_, err := engine.Run(context.Background(), testRequest(source, filepath.Join(root, "out"), nil))

	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Stage != StageEncode {
		t.Fatalf("error = %v, want encode failure", err)
	}
}
