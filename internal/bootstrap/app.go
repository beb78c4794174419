package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"webpconv/internal/config"
	"webpconv/internal/convert"
	"webpconv/internal/diagnostics"
	"webpconv/internal/domain"
	"webpconv/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var webpDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "WebP images",
		Pattern:     "*.webp",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the batch scheduler, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Scheduler   *jobs.Scheduler
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".webpconv", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
	}
	app.Scheduler = jobs.NewScheduler(
		convert.NewEngine(),
		jobs.NewEventBus(1000),
		app.currentSettings,
		app.pushEvent,
	)
	return app, nil
}

// newWithDeps builds an app around injected collaborators for tests.
func newWithDeps(store config.Store, checker *diagnostics.Checker, engine jobs.Converter) (*App, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := &App{
		Settings: settings,
		Store:    store,
		checker:  checker,
	}
	if checker != nil {
		app.Diagnostics = checker.Run(settings)
	}
	app.Scheduler = jobs.NewScheduler(engine, jobs.NewEventBus(1000), app.currentSettings, app.pushEvent)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "WebP Converter",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// Jobs already dispatched keep the settings they started with.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(trimSettings(settings))
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// SubmitJobs queues one conversion job per selected source file.
func (a *App) SubmitJobs(paths []string, opts domain.JobOptions) ([]domain.Job, error) {
	cleaned := make([]string, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no input files selected")
	}

	return a.Scheduler.Enqueue(cleaned, opts), nil
}

// StartAll begins converting every queued job and retries failed ones.
func (a *App) StartAll() {
	a.Scheduler.StartAll()
}

// RemoveJob removes a job from the batch, cancelling it when running.
func (a *App) RemoveJob(id string) error {
	return a.Scheduler.Remove(id)
}

// ClearCompleted drops all succeeded jobs from the batch.
func (a *App) ClearCompleted() {
	a.Scheduler.ClearCompleted()
}

// ListJobs returns a snapshot of every job in submission order.
func (a *App) ListJobs() []domain.Job {
	return a.Scheduler.Snapshot()
}

// BatchActive reports whether any batch run is still in flight.
func (a *App) BatchActive() bool {
	return a.Scheduler.Active()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Scheduler.Events(sinceSeq)
}

// PickInputFiles opens a native multi-select dialog for WebP sources.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select WebP files",
		Filters: webpDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			selected = append(selected, trimmed)
		}
	}
	return selected, nil
}

// PickOutputDirectory opens a native directory picker for converted videos.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()
	return report, nil
}

// currentSettings supplies batch settings to the scheduler.
func (a *App) currentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings
}

// pushEvent forwards scheduler events to the frontend over the event bridge.
func (a *App) pushEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", event)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// trimSettings strips surrounding whitespace from user-entered paths.
func trimSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.NameTemplate = strings.TrimSpace(settings.NameTemplate)
	settings.Background = strings.TrimSpace(settings.Background)
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
