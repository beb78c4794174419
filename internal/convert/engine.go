package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chai2010/webp"

	"webpconv/internal/domain"
	"webpconv/internal/naming"
	"webpconv/internal/webpfile"
)

// Engine stages, used for error classification and diagnostics.
const (
	StageProbe   = "probe"
	StageResolve = "resolve"
	StageBuild   = "build"
	StageSpawn   = "spawn"
	StageEncode  = "encode"
)

// EngineError is a stage-aware conversion failure with an optional pointer
// to the persisted diagnostic log.
type EngineError struct {
	Stage     string
	Message   string
	LogPath   string
	Cancelled bool
	Err       error
}

// Error formats engine failures for logs and UI.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.LogPath == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (log: %s)", e.Stage, e.Message, e.LogPath)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// runResult is an internal process execution response.
type runResult struct {
	ExitCode int
	Output   string
}

// commandRunner abstracts process execution for testability. onLine receives
// each line of the process's progress stream as it arrives.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(line string)) (runResult, error)
}

// execRunner executes commands via os/exec, streaming stdout line by line
// and capturing stderr for diagnostics.
type execRunner struct{}

// Run starts one command and blocks until it exits.
func (r *execRunner) Run(ctx context.Context, name string, args []string, onLine func(line string)) (runResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{}, err
	}

	if err := cmd.Start(); err != nil {
		return runResult{ExitCode: -1}, err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	_, _ = io.Copy(io.Discard, stdout)

	err = cmd.Wait()
	result := runResult{Output: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Request describes one conversion handed to the engine. The settings
// snapshot and dispatch timestamp are fixed by the scheduler.
type Request struct {
	SourcePath string
	Sequence   int
	Options    domain.JobOptions
	Dispatch   domain.DispatchContext
	OnProgress func(percent float64)
}

// Result carries the final artifact of a successful conversion.
type Result struct {
	OutputPath string
}

// attempt records one external invocation for the failure report.
type attempt struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

// Engine drives one encoding process per job inside an isolated working
// directory. Engines hold no per-job state and are safe for concurrent use.
type Engine struct {
	ffmpegPath  string
	runner      commandRunner
	probe       func(path string) (*webpfile.Info, error)
	decodeFrame func(data []byte) (image.Image, error)
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
}

// NewEngine constructs the production engine with OS dependencies.
func NewEngine() *Engine {
	return &Engine{
		ffmpegPath: "ffmpeg",
		runner:     &execRunner{},
		probe:      webpfile.Probe,
		decodeFrame: func(data []byte) (image.Image, error) {
			return webp.Decode(bytes.NewReader(data))
		},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
	}
}

// Run converts one source asset to its resolved destination. It returns an
// *EngineError on failure; cancellation is reported with Cancelled set.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if _, err := e.stat(req.SourcePath); err != nil {
		return Result{}, &EngineError{
			Stage:   StageProbe,
			Message: fmt.Sprintf("cannot access input: %s", req.SourcePath),
			Err:     err,
		}
	}

	info, err := e.probe(req.SourcePath)
	if err != nil {
		return Result{}, &EngineError{
			Stage:   StageProbe,
			Message: err.Error(),
			Err:     err,
		}
	}

	settings := req.Dispatch.Settings
	outputPath, err := naming.Resolve(naming.Request{
		SourcePath: req.SourcePath,
		Sequence:   req.Sequence,
		OutputDir:  settings.OutputDir,
		Extension:  settings.Format.Extension(),
		Template:   settings.NameTemplate,
		At:         req.Dispatch.At,
	})
	if err != nil {
		return Result{}, &EngineError{
			Stage:   StageResolve,
			Message: err.Error(),
			Err:     err,
		}
	}

	inv, err := BuildInvocation(req.SourcePath, outputPath, info, req.Options, settings)
	if err != nil {
		return Result{}, &EngineError{
			Stage:   StageBuild,
			Message: err.Error(),
			Err:     err,
		}
	}

	workDir, err := e.mkdirTemp("", "webpconv-job-*")
	if err != nil {
		return Result{}, &EngineError{
			Stage:   StageSpawn,
			Message: "failed to create job working directory",
			Err:     err,
		}
	}

	// Job-level monotonic clamp: the fallback path restarts its own
	// percentage sequence, which must never roll progress backwards.
	progress := newProgressTracker(100, req.OnProgress)
	emit := func(percent float64) { progress.report(percent) }

	tracker := newProgressTracker(inv.TotalDuration, func(p float64) { emit(p) })
	direct, runErr := e.runner.Run(ctx, e.ffmpegPath, inv.Args, tracker.Line)
	attempts := []attempt{{Name: e.ffmpegPath, Args: inv.Args, Output: direct.Output, Err: runErr}}

	if cancelErr := cancelled(ctx, workDir, e.removeAll); cancelErr != nil {
		return Result{}, cancelErr
	}

	failed := runErr != nil || !e.outputUsable(outputPath)
	if failed && runErr != nil {
		var execErr *exec.Error
		if errors.As(runErr, &execErr) {
			logPath := e.writeFailureReport(workDir, req.SourcePath, attempts)
			return Result{}, &EngineError{
				Stage:   StageSpawn,
				Message: fmt.Sprintf("encoder could not start: %v", runErr),
				LogPath: logPath,
				Err:     runErr,
			}
		}
	}

	if failed && info.Animated {
		// Direct decode failed; rebuild the animation frame by frame.
		fb, fbErr := e.runFallback(ctx, workDir, req, info, outputPath, emit)
		attempts = append(attempts, fb...)
		if cancelErr := cancelled(ctx, workDir, e.removeAll); cancelErr != nil {
			return Result{}, cancelErr
		}
		failed = fbErr != nil || !e.outputUsable(outputPath)
	}

	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		logPath := e.writeFailureReport(workDir, req.SourcePath, attempts)
		return Result{}, &EngineError{
			Stage:   StageEncode,
			Message: "conversion timed out",
			LogPath: logPath,
			Err:     err,
		}
	}

	if failed {
		logPath := e.writeFailureReport(workDir, req.SourcePath, attempts)
		return Result{}, &EngineError{
			Stage:   StageEncode,
			Message: failureMessage(attempts),
			LogPath: logPath,
			Err:     firstError(attempts),
		}
	}

	_ = e.removeAll(workDir)
	emit(100)
	return Result{OutputPath: outputPath}, nil
}

// NewEngineForTests constructs an engine with injectable dependencies.
func NewEngineForTests(
	ffmpegPath string,
	runner commandRunner,
	probe func(path string) (*webpfile.Info, error),
	decodeFrame func(data []byte) (image.Image, error),
) *Engine {
	return &Engine{
		ffmpegPath:  ffmpegPath,
		runner:      runner,
		probe:       probe,
		decodeFrame: decodeFrame,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
	}
}

// cancelled maps a cancelled context to the distinct cancellation outcome and
// discards the working directory.
func cancelled(ctx context.Context, workDir string, removeAll func(string) error) *EngineError {
	if !errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	_ = removeAll(workDir)
	return &EngineError{
		Stage:     StageEncode,
		Message:   "conversion cancelled",
		Cancelled: true,
		Err:       ctx.Err(),
	}
}

// outputUsable reports whether the expected artifact exists and is non-empty.
func (e *Engine) outputUsable(path string) bool {
	fi, err := e.stat(path)
	return err == nil && fi.Size() > 0
}

// failureMessage summarizes the last attempt's tool output for the UI.
func failureMessage(attempts []attempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		out := strings.TrimSpace(attempts[i].Output)
		if out != "" {
			return "conversion failed: " + lastLine(out)
		}
		if attempts[i].Err != nil {
			return "conversion failed: " + attempts[i].Err.Error()
		}
	}
	return "conversion failed: encoder produced no usable output"
}

// firstError returns the earliest recorded attempt error.
func firstError(attempts []attempt) error {
	for _, a := range attempts {
		if a.Err != nil {
			return a.Err
		}
	}
	return nil
}

// lastLine extracts the trailing line of tool output, which ffmpeg uses for
// its terminal error message.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// writeFailureReport persists the full diagnostic report in the job working
// directory and returns its path. The working directory is retained so the
// user can inspect it after the batch finishes.
func (e *Engine) writeFailureReport(workDir, inputPath string, attempts []attempt) string {
	var b strings.Builder
	b.WriteString("WebP conversion failure report\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Input: %s\n", inputPath)
	fmt.Fprintf(&b, "Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	ffmpegPath, lookErr := exec.LookPath(e.ffmpegPath)
	if lookErr != nil {
		fmt.Fprintf(&b, "ffmpeg: %s (not found: %v)\n", e.ffmpegPath, lookErr)
	} else {
		fmt.Fprintf(&b, "ffmpeg: %s\n", ffmpegPath)
	}

	for i, a := range attempts {
		fmt.Fprintf(&b, "\n--- attempt %d: %s %s\n", i+1, a.Name, strings.Join(a.Args, " "))
		if a.Err != nil {
			fmt.Fprintf(&b, "error: %v\n", a.Err)
		}
		if strings.TrimSpace(a.Output) != "" {
			b.WriteString(a.Output)
			if !strings.HasSuffix(a.Output, "\n") {
				b.WriteString("\n")
			}
		}
	}

	logPath := filepath.Join(workDir, "failure.log")
	if err := os.WriteFile(logPath, []byte(b.String()), 0o644); err != nil {
		return ""
	}
	return logPath
}
