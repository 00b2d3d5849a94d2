package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Lite is the stripped-down runner used by the recurring health check. It
// skips heartbeats and task persistence, returning only the terminal status
// and the extracted data payload.
type Lite struct {
	engine   Engine
	catalog  *Catalog
	settings SettingsSource
	workRoot string
}

// NewLite creates a Lite runner.
func NewLite(engine Engine, catalog *Catalog, settings SettingsSource, workRoot string) (*Lite, error) {
	if engine == nil || catalog == nil || settings == nil {
		return nil, errors.New("engine, catalog, and settings are required")
	}
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "roachplane-jobs")
	}
	return &Lite{engine: engine, catalog: catalog, settings: settings, workRoot: workRoot}, nil
}

// Run executes a playbook and drains its event stream, keeping only the data
// payload. files are written into the working directory before launch, keyed
// by relative name; the working directory is removed on all paths.
func (l *Lite) Run(ctx context.Context, playbook string, extraVars map[string]any, files map[string]string) (string, any, error) {
	workDir := filepath.Join(l.workRoot, fmt.Sprintf("probe-%s", uuid.NewString()[:8]))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return StatusFailed, nil, err
	}
	defer os.RemoveAll(workDir)

	playbookPath, err := l.catalog.Fetch(ctx, playbook, workDir)
	if err != nil {
		return StatusFailed, nil, err
	}

	for name, content := range files {
		mode := os.FileMode(0o644)
		if filepath.Ext(name) == ".pem" || filepath.Ext(name) == ".key" {
			mode = 0o600
		}
		if err := os.WriteFile(filepath.Join(workDir, name), []byte(content), mode); err != nil {
			return StatusFailed, nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	run, err := l.engine.Launch(ctx, Invocation{
		PlaybookPath: playbookPath,
		WorkDir:      workDir,
		ExtraVars:    extraVars,
	})
	if err != nil {
		return StatusFailed, nil, fmt.Errorf("launch %s: %w", playbook, err)
	}

	var data any
	for ev := range run.Events() {
		if action, _, _ := classify(ev); action == actionData {
			data = extractData(ev)
		}
	}

	return run.Status(), data, nil
}
