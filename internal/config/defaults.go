package config

import (
	"math"
	"os"
	"path/filepath"

	"webpconv/internal/domain"
)

// Limits applied when loading settings from disk.
const (
	MinStaticDuration = 0.1
	MaxStaticDuration = 60.0
)

// DefaultSettings returns baseline batch configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:      filepath.Join(homeDir, "Videos", "Converted"),
		Format:         domain.FormatMP4,
		NameTemplate:   "{name}",
		Quality:        domain.QualityHigh,
		StaticDuration: 1.0,
		Concurrency:    2,
	}
}

// Normalize replaces out-of-range or unrecognized settings values with safe
// ones so a hand-edited file never reaches the conversion pipeline as-is.
func Normalize(cfg domain.Settings) domain.Settings {
	switch cfg.Format {
	case domain.FormatMP4, domain.FormatMOV:
	default:
		cfg.Format = domain.FormatMP4
	}

	switch cfg.Quality {
	case domain.QualityHigh, domain.QualityBalanced, domain.QualitySmall:
	default:
		cfg.Quality = domain.QualityHigh
	}

	if cfg.NameTemplate == "" {
		cfg.NameTemplate = "{name}"
	}

	if math.IsNaN(cfg.StaticDuration) || math.IsInf(cfg.StaticDuration, 0) {
		cfg.StaticDuration = 1.0
	}
	if cfg.StaticDuration < MinStaticDuration {
		cfg.StaticDuration = MinStaticDuration
	}
	if cfg.StaticDuration > MaxStaticDuration {
		cfg.StaticDuration = MaxStaticDuration
	}

	if cfg.FPS < 0 {
		cfg.FPS = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeoutSec < 0 {
		cfg.JobTimeoutSec = 0
	}

	return cfg
}
