package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Engine terminal statuses as reported by the automation runtime.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// Event is one typed event from the automation engine's stream.
type Event struct {
	Kind   string    `json:"event"`
	Stdout string    `json:"stdout"`
	Data   EventData `json:"event_data"`
}

// EventData carries the engine-specific payload of an event.
type EventData struct {
	Play string         `json:"play"`
	Task string         `json:"task"`
	Host string         `json:"host"`
	Res  map[string]any `json:"res"`
}

// Invocation describes one engine launch.
type Invocation struct {
	PlaybookPath string
	WorkDir      string
	ExtraVars    map[string]any
}

// Run is a live engine invocation. Events delivers the stream in arrival
// order and is closed once the engine exits; Status is valid afterwards.
type Run interface {
	Events() <-chan Event
	Status() string
}

// Engine launches playbook invocations asynchronously.
type Engine interface {
	Launch(ctx context.Context, inv Invocation) (Run, error)
}

// ExecEngine drives the automation runtime as a subprocess emitting JSON-line
// events on stdout.
type ExecEngine struct {
	Bin string
}

// NewExecEngine returns an engine using the given binary.
func NewExecEngine(bin string) (*ExecEngine, error) {
	if bin == "" {
		return nil, errors.New("engine binary is required")
	}
	return &ExecEngine{Bin: bin}, nil
}

type execRun struct {
	events chan Event

	mu     sync.Mutex
	status string
}

func (r *execRun) Events() <-chan Event { return r.events }

func (r *execRun) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *execRun) setStatus(status string) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// Launch writes the extra-vars file into the working directory, starts the
// engine, and streams its events. The returned Run's event channel is closed
// when the subprocess exits.
func (e *ExecEngine) Launch(ctx context.Context, inv Invocation) (Run, error) {
	if inv.PlaybookPath == "" || inv.WorkDir == "" {
		return nil, errors.New("playbook path and workdir are required")
	}

	envDir := filepath.Join(inv.WorkDir, "env")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return nil, err
	}
	extraVars, err := yaml.Marshal(inv.ExtraVars)
	if err != nil {
		return nil, fmt.Errorf("marshal extra vars: %w", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "extravars"), extraVars, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Bin, "run", inv.WorkDir, "--playbook", inv.PlaybookPath, "--json")
	cmd.Dir = inv.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	run := &execRun{events: make(chan Event), status: StatusFailed}

	go func() {
		defer close(run.events)

		aborted := false
		scanEvents(stdout, func(ev Event) bool {
			select {
			case run.events <- ev:
				return true
			case <-ctx.Done():
				aborted = true
				_ = cmd.Process.Kill()
				return false
			}
		})

		if err := cmd.Wait(); err == nil && !aborted {
			run.setStatus(StatusSuccessful)
		}
	}()

	return run, nil
}

// maxEventLine bounds a single JSON event line on stdout.
const maxEventLine = 4 * 1024 * 1024

// scanEvents decodes JSON-line events from r and hands them to emit until the
// stream ends or emit returns false. A broken stream, such as a line over
// maxEventLine, is surfaced as a final synthetic error event so the run leaves
// a trace instead of silently dropping the rest of its tasks.
func scanEvents(r io.Reader, emit func(Event) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Non-JSON output from the engine is surfaced verbatim.
			ev = Event{Kind: "verbose", Stdout: string(line)}
		}
		if !emit(ev) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(Event{Kind: "error", Stdout: fmt.Sprintf("engine output stream broken: %v", err)})
	}
}
