// Package engine acquires chess engine processes and exposes them as line-oriented handles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrClosed is returned by Handle.Send after the handle was closed.
var ErrClosed = errors.New("engine handle closed")

// Handle is a running engine speaking a line-based text protocol.
type Handle interface {
	// Send writes one command line to the engine's input.
	Send(line string) error
	// Lines delivers engine output lines in emission order; it is closed when output ends.
	Lines() <-chan string
	// Close releases the engine and every resource acquired to run it. It is idempotent.
	Close() error
}

// InputCloser is implemented by handles that can signal end of input while their output
// keeps flowing. Engines typically finish pending work and exit on it.
type InputCloser interface {
	CloseInput() error
}

// Loader acquires an engine instance.
type Loader interface {
	Load(ctx context.Context) (Handle, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Handle, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Source describes where the engine comes from. Exactly one of URL or Path must be set.
type Source struct {
	// URL is a remote location of the engine executable, fetched on every start.
	URL string `yaml:"url,omitempty"`
	// SHA256 optionally pins the hex digest of the payload fetched from URL.
	SHA256 string `yaml:"sha256,omitempty"`
	// Path is a local engine executable, either a path or a name looked up in PATH.
	Path string `yaml:"path,omitempty"`
	// Args are passed to the engine process.
	Args []string `yaml:"args,omitempty"`
	// Dir is the working directory of the engine process.
	Dir string `yaml:"dir,omitempty"`
}

// Validate checks that exactly one location is set.
func (s Source) Validate() error {
	hasURL := strings.TrimSpace(s.URL) != ""
	hasPath := strings.TrimSpace(s.Path) != ""
	switch {
	case hasURL && hasPath:
		return fmt.Errorf("engine source must set either url or path, not both")
	case !hasURL && !hasPath:
		return fmt.Errorf("engine source must set url or path")
	}
	if s.SHA256 != "" && !hasURL {
		return fmt.Errorf("engine sha256 is only valid together with url")
	}
	return nil
}

// String returns the engine location for logs.
func (s Source) String() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// NewLoader builds the loader matching src.
func NewLoader(src Source, logger *slog.Logger) (Loader, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.URL != "" {
		return &RemoteLoader{
			URL:    strings.TrimSpace(src.URL),
			SHA256: strings.TrimSpace(src.SHA256),
			Args:   src.Args,
			Dir:    src.Dir,
			Logger: logger,
		}, nil
	}
	return &LocalLoader{
		Path:   strings.TrimSpace(src.Path),
		Args:   src.Args,
		Dir:    src.Dir,
		Logger: logger,
	}, nil
}
