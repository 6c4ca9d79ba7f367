package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// LocalLoader runs an engine executable available on the local machine.
type LocalLoader struct {
	// Path is an executable path or a name resolved through PATH.
	Path string
	// Args are passed to the engine.
	Args []string
	// Dir is the working directory of the engine.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Logger receives process lifecycle events.
	Logger *slog.Logger
}

// Load resolves and starts the engine.
func (l *LocalLoader) Load(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(l.Path)
	if err != nil {
		return nil, fmt.Errorf("locate engine %q: %w", l.Path, err)
	}
	return StartProcess(path, l.Args, ProcessOptions{
		Dir:    l.Dir,
		Env:    l.Env,
		Logger: l.Logger,
	})
}
