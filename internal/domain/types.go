package domain

import "time"

// JobStatus tracks the lifecycle of a single conversion job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether a status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// QualityPreset selects the encoder quality/size tradeoff.
type QualityPreset string

const (
	QualityHigh     QualityPreset = "high"
	QualityBalanced QualityPreset = "balanced"
	QualitySmall    QualityPreset = "small"
)

// CRF returns the constant rate factor for a preset. Lower is higher
// quality and larger output.
func (q QualityPreset) CRF() int {
	switch q {
	case QualityBalanced:
		return 23
	case QualitySmall:
		return 28
	default:
		return 18
	}
}

// OutputFormat is the target container.
type OutputFormat string

const (
	FormatMP4 OutputFormat = "mp4"
	FormatMOV OutputFormat = "mov"
)

// Extension returns the file extension without the leading dot.
func (f OutputFormat) Extension() string {
	if f == FormatMOV {
		return "mov"
	}
	return "mp4"
}

// JobOptions carries the per-job overrides applied on top of batch settings.
type JobOptions struct {
	Quality QualityPreset `json:"quality,omitempty"`
	FPS     int           `json:"fps,omitempty"`
}

// FailureDetail describes why a job failed, with an optional pointer to the
// diagnostic log written by the conversion engine.
type FailureDetail struct {
	Message   string `json:"message"`
	LogPath   string `json:"logPath,omitempty"`
	Cancelled bool   `json:"cancelled"`
}

// Job is one requested conversion of a single source asset. The scheduler
// exclusively owns job records; everything else works on copies.
type Job struct {
	ID         string         `json:"id"`
	SourcePath string         `json:"sourcePath"`
	Name       string         `json:"name"`
	Sequence   int            `json:"sequence"`
	Status     JobStatus      `json:"status"`
	Progress   float64        `json:"progress"`
	OutputPath string         `json:"outputPath,omitempty"`
	Failure    *FailureDetail `json:"failure,omitempty"`
	Options    JobOptions     `json:"options"`
}

// Settings contains user-selectable batch conversion configuration. Each job
// receives an immutable snapshot of these at dispatch time.
type Settings struct {
	OutputDir      string        `json:"outputDir,omitempty"`
	Format         OutputFormat  `json:"format"`
	NameTemplate   string        `json:"nameTemplate"`
	Quality        QualityPreset `json:"quality"`
	FPS            int           `json:"fps,omitempty"`
	StaticDuration float64       `json:"staticDuration"`
	Background     string        `json:"background,omitempty"`
	Concurrency    int           `json:"concurrency"`
	JobTimeoutSec  int           `json:"jobTimeoutSec,omitempty"`
}

// DispatchContext pins the values that must stay constant for one run of a
// job: the settings snapshot and the timestamp used for {date}/{time} tokens.
type DispatchContext struct {
	Settings Settings
	At       time.Time
}
