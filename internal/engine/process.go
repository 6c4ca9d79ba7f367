package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codex-k8s/ucirelay/internal/logging"
)

const (
	// maxLineSize bounds a single engine output line; multipv info lines can be long.
	maxLineSize = 1 << 20
	// exitGrace is how long Close waits for the engine to exit after its input is closed.
	exitGrace = 2 * time.Second
)

var (
	_ Handle      = (*Process)(nil)
	_ InputCloser = (*Process)(nil)
)

// ProcessOptions configures StartProcess.
type ProcessOptions struct {
	// Dir is the working directory of the engine.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Logger receives lifecycle events and the engine's stderr at debug level.
	Logger *slog.Logger
	// Cleanup runs once after the process has exited during Close.
	Cleanup func() error
}

// Process is a Handle backed by an operating system process.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	done    chan struct{}
	exited  chan struct{}
	waitErr error
	logger  *slog.Logger
	cleanup func() error

	// mu serializes writers only; Close never takes it so a writer blocked on a full pipe
	// cannot stall shutdown.
	mu        sync.Mutex
	closed    atomic.Bool
	stdinOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// StartProcess runs path with args and starts pumping its stdout.
func StartProcess(path string, args []string, opts ProcessOptions) (*Process, error) {
	logger := logging.OrDiscard(opts.Logger)

	cmd := exec.Command(path, args...) //nolint:gosec // engine path comes from operator configuration
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stderr = logging.NewWriter(logger, "engine stderr")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", path, err)
	}

	p := &Process{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		logger:  logger,
		cleanup: opts.Cleanup,
	}
	logger.Debug("engine started", "path", path, "pid", cmd.Process.Pid)

	go p.pump(stdout)
	return p, nil
}

// pump forwards stdout lines until EOF, then reaps the process.
func (p *Process) pump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		select {
		case p.lines <- line:
		case <-p.done:
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("engine output read failed", "error", err)
	}
	close(p.lines)

	p.waitErr = p.cmd.Wait()
	if p.waitErr != nil {
		p.logger.Debug("engine exited", "error", p.waitErr)
	} else {
		p.logger.Debug("engine exited")
	}
	close(p.exited)
}

// Send writes line followed by a newline to the engine's stdin.
func (p *Process) Send(line string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		if p.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("write to engine: %w", err)
	}
	return nil
}

// Lines returns the engine output channel.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// CloseInput closes the engine's stdin so that it sees end of input, while its remaining
// output keeps flowing through Lines. Later Send calls return ErrClosed.
func (p *Process) CloseInput() error {
	p.closed.Store(true)
	return p.closeStdin()
}

// closeStdin closes the pipe without the write lock; a blocked writer fails instead of
// holding Close up.
func (p *Process) closeStdin() error {
	var err error
	p.stdinOnce.Do(func() { err = p.stdin.Close() })
	return err
}

// Close closes the engine input, waits briefly for a graceful exit, kills the process otherwise
// and finally runs the cleanup hook.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		_ = p.closeStdin()
		close(p.done)

		select {
		case <-p.exited:
		case <-time.After(exitGrace):
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("kill engine failed", "error", err)
			}
			<-p.exited
		}

		if p.cleanup != nil {
			p.closeErr = p.cleanup()
		}
	})
	return p.closeErr
}
