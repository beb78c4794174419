package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"webpconv/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Format != domain.FormatMP4 {
		t.Fatalf("format = %q, want mp4", cfg.Format)
	}
	if cfg.NameTemplate != "{name}" {
		t.Fatalf("template = %q, want {name}", cfg.NameTemplate)
	}
	if cfg.Quality != domain.QualityHigh {
		t.Fatalf("quality = %q, want high", cfg.Quality)
	}
	if cfg.Concurrency != 2 {
		t.Fatalf("concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.OutputDir == "" {
		t.Fatal("expected non-empty output dir")
	}
}

// TestNormalizeClampsStaticDuration checks the duration bounds.
func TestNormalizeClampsStaticDuration(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.01, 0.1},
		{120, 60},
		{math.NaN(), 1.0},
		{math.Inf(1), 1.0},
		{2.5, 2.5},
	}
	for _, tc := range cases {
		got := Normalize(domain.Settings{StaticDuration: tc.in}).StaticDuration
		if got != tc.want {
			t.Fatalf("Normalize(%v) duration = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestNormalizeCanonicalizesEnums checks unknown values fall back.
func TestNormalizeCanonicalizesEnums(t *testing.T) {
	got := Normalize(domain.Settings{Format: "avi", Quality: "ultra", Concurrency: -3, FPS: -1})
	if got.Format != domain.FormatMP4 {
		t.Fatalf("format = %q, want mp4", got.Format)
	}
	if got.Quality != domain.QualityHigh {
		t.Fatalf("quality = %q, want high", got.Quality)
	}
	if got.Concurrency != 2 {
		t.Fatalf("concurrency = %d, want 2", got.Concurrency)
	}
	if got.FPS != 0 {
		t.Fatalf("fps = %v, want 0", got.FPS)
	}
	if got.NameTemplate != "{name}" {
		t.Fatalf("template = %q, want {name}", got.NameTemplate)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Format != domain.FormatMP4 {
		t.Fatalf("format = %q, want mp4", got.Format)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		OutputDir:      "/out",
		Format:         domain.FormatMOV,
		NameTemplate:   "{name}_{counter}",
		Quality:        domain.QualitySmall,
		FPS:            24,
		StaticDuration: 3,
		Background:     "#336699",
		Concurrency:    4,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadNormalizes checks hand-edited files are sanitized.
func TestJSONStoreLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := `{"format":"avi","quality":"balanced","staticDuration":500,"concurrency":0}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Format != domain.FormatMP4 {
		t.Fatalf("format = %q, want mp4", got.Format)
	}
	if got.Quality != domain.QualityBalanced {
		t.Fatalf("quality = %q, want balanced", got.Quality)
	}
	if got.StaticDuration != 60 {
		t.Fatalf("duration = %v, want 60", got.StaticDuration)
	}
	if got.Concurrency != 2 {
		t.Fatalf("concurrency = %d, want 2", got.Concurrency)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
