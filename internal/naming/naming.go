package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// counterWidth is the zero-pad width applied to the {counter} token.
const counterWidth = 1

// Request describes one output path resolution. At is the job dispatch
// timestamp; date/time tokens must not drift between resolution and logging.
type Request struct {
	SourcePath string
	Sequence   int
	OutputDir  string
	Extension  string
	Template   string
	At         time.Time
}

// Resolve expands the naming template into an absolute, collision-free
// destination path and eagerly creates the output directory. The existence
// check is not atomic across processes; acceptable for a single-instance
// desktop tool.
func Resolve(req Request) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(req.SourcePath), filepath.Ext(req.SourcePath))

	dir := req.OutputDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(req.SourcePath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %q: %w", dir, err)
	}

	name := Render(req.Template, stem, req.Sequence, req.Extension, req.At)
	candidate := filepath.Join(dir, name+"."+req.Extension)

	abs, err := filepath.Abs(ensureUnique(candidate))
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	return abs, nil
}

// Render expands template tokens into a sanitized file stem. Unknown tokens
// pass through verbatim so a typo stays visible instead of failing silently.
func Render(template, stem string, sequence int, ext string, at time.Time) string {
	name := strings.TrimSpace(template)
	name = replaceToken(name, "name", stem)
	name = replaceToken(name, "counter", fmt.Sprintf("%0*d", counterWidth, sequence))
	name = replaceToken(name, "date", at.Format("20060102"))
	name = replaceToken(name, "time", at.Format("150405"))
	name = replaceToken(name, "ext", ext)
	name = sanitize(name)
	name = stripTrailingExtension(name, ext)
	if name == "" {
		return sanitize(stem)
	}
	return name
}

// replaceToken substitutes both the {token} and legacy [token] spellings.
func replaceToken(s, token, value string) string {
	s = strings.ReplaceAll(s, "{"+token+"}", value)
	return strings.ReplaceAll(s, "["+token+"]", value)
}

// sanitize replaces path-hostile characters in a rendered file stem.
func sanitize(value string) string {
	var b strings.Builder
	for _, ch := range value {
		switch ch {
		case '/', '\\', ':':
			b.WriteRune('-')
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}

// stripTrailingExtension drops a duplicated target extension from the stem
// so "{name}.{ext}" templates do not produce "clip.mp4.mp4".
func stripTrailingExtension(value, ext string) string {
	if ext == "" {
		return value
	}
	suffix := "." + strings.ToLower(ext)
	if strings.HasSuffix(strings.ToLower(value), suffix) {
		return value[:len(value)-len(suffix)]
	}
	return value
}

// ensureUnique appends -1, -2, ... before the extension until the candidate
// does not exist.
func ensureUnique(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
