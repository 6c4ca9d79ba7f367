// Package relay forwards commands to a chess engine and engine messages back to the caller,
// injecting a fixed batch of engine options the first time the engine completes its handshake.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/logging"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

var (
	// ErrNotReady is returned by Send under PendingReject while the engine is still being acquired.
	ErrNotReady = errors.New("engine not acquired yet")
	// ErrPendingFull is returned by Send when the pre-acquisition queue is at capacity.
	ErrPendingFull = errors.New("pending command queue is full")
	// ErrUnavailable is returned by Send once the engine failed to load, failed a write or
	// has exited.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrDraining is returned by Send once Drain has started.
	ErrDraining = errors.New("relay is draining")
	// ErrTerminated is returned by Send after Terminate.
	ErrTerminated = errors.New("relay terminated")
)

// OutputFunc receives every message forwarded to the caller, one at a time and in order.
type OutputFunc func(message string)

type state int

const (
	stateAcquiring state = iota
	stateRunning
	stateFailed
	stateExited
	stateTerminated
)

// Relay owns one engine instance, one readiness flag and one option batch.
type Relay struct {
	loader   engine.Loader
	batch    uci.Batch
	output   OutputFunc
	logger   *slog.Logger
	sentinel string
	alive    string
	policy   PendingPolicy
	max      int

	ready      atomic.Bool
	terminated atomic.Bool
	cancel     context.CancelFunc
	wake       chan struct{}
	acquired   chan struct{}
	readied    chan struct{}
	done       chan struct{}
	doneOnce   sync.Once

	mu      sync.Mutex
	state   state
	handle  engine.Handle
	queue   []string
	failure error
	// writing is set while the writer holds commands taken off the queue.
	writing bool
	// flushed is closed and replaced whenever the writer goes idle with an empty queue.
	flushed       chan struct{}
	draining      bool
	inputClosed   bool
	handshakeSent bool
}

// New builds a relay and starts acquiring the engine in the background. It never blocks.
func New(loader engine.Loader, batch uci.Batch, output OutputFunc, opts ...Option) *Relay {
	r := &Relay{
		loader:   loader,
		batch:    batch.Clone(),
		output:   output,
		logger:   logging.Discard(),
		sentinel: uci.HandshakeSentinel,
		policy:   PendingQueue,
		max:      DefaultMaxPending,
		wake:     make(chan struct{}, 1),
		acquired: make(chan struct{}),
		readied:  make(chan struct{}),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.acquire(ctx)
	return r
}

// Send forwards command to the engine verbatim. Commands issued before the engine exists are
// queued and flushed in order once it does, or rejected under PendingReject.
func (r *Relay) Send(command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateTerminated:
		return ErrTerminated
	case stateFailed:
		return fmt.Errorf("%w: %w", ErrUnavailable, r.failure)
	case stateExited:
		if r.failure != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, r.failure)
		}
		return fmt.Errorf("%w: engine exited", ErrUnavailable)
	}
	switch {
	case r.draining:
		return ErrDraining
	case r.inputClosed:
		return fmt.Errorf("%w: engine input closed", ErrUnavailable)
	case r.state == stateAcquiring:
		if r.policy == PendingReject {
			return ErrNotReady
		}
		if r.max > 0 && len(r.queue) >= r.max {
			return ErrPendingFull
		}
	}

	if strings.TrimSpace(command) == uci.HandshakeCommand {
		r.handshakeSent = true
	}
	r.enqueueLocked(command)
	return nil
}

// Ready reports whether the handshake sentinel has been observed.
func (r *Relay) Ready() bool {
	return r.ready.Load()
}

// Done is closed once the relay will never emit another message.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that made the engine unavailable: a failed acquisition or a failed
// write. A clean engine exit leaves it nil.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Terminate releases the engine and any resources acquired for it. It is idempotent, and
// an in-flight acquisition is canceled.
func (r *Relay) Terminate() error {
	r.mu.Lock()
	if r.state == stateTerminated {
		r.mu.Unlock()
		return nil
	}
	h := r.handle
	r.state = stateTerminated
	r.handle = nil
	r.queue = nil
	r.terminated.Store(true)
	r.mu.Unlock()

	r.cancel()
	var err error
	if h != nil {
		err = h.Close()
	}
	r.finish()
	r.logger.Debug("relay terminated")
	return err
}

func (r *Relay) acquire(ctx context.Context) {
	h, err := r.loader.Load(ctx)

	r.mu.Lock()
	if r.state == stateTerminated {
		r.mu.Unlock()
		close(r.acquired)
		if h != nil {
			_ = h.Close()
		}
		return
	}
	if err != nil {
		r.state = stateFailed
		r.failure = err
		r.queue = nil
		r.mu.Unlock()
		close(r.acquired)

		r.logger.Error("engine acquisition failed", "error", err)
		r.emit(uci.InfoString("Error loading engine: " + err.Error()))
		r.finish()
		return
	}
	r.handle = h
	r.state = stateRunning
	queued := len(r.queue)
	r.mu.Unlock()
	close(r.acquired)

	r.logger.Info("engine acquired", "queued", queued)
	go r.writeLoop(h)
	r.signal()

	if r.alive != "" {
		r.emit(r.alive)
	}
	r.readLoop(h)
}

// readLoop delivers engine output strictly one message at a time.
func (r *Relay) readLoop(h engine.Handle) {
	for msg := range h.Lines() {
		r.onOutput(msg)
	}

	r.mu.Lock()
	exited := r.state == stateRunning
	if exited {
		r.state = stateExited
		r.queue = nil
	}
	r.mu.Unlock()

	if exited {
		r.logger.Info("engine output ended")
		if err := h.Close(); err != nil {
			r.logger.Warn("release engine failed", "error", err)
		}
	}
	r.finish()
}

func (r *Relay) onOutput(msg string) {
	if msg == r.sentinel && r.ready.CompareAndSwap(false, true) {
		r.applyConfiguration()
		close(r.readied)
	}
	r.emit(msg)
}

// applyConfiguration queues the option batch ahead of anything the caller sends after
// observing the sentinel.
func (r *Relay) applyConfiguration() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateRunning {
		return
	}
	if r.inputClosed {
		r.logger.Warn("engine input already closed, options not applied", "count", len(r.batch))
		return
	}
	for _, cmd := range r.batch.Commands() {
		r.enqueueLocked(cmd)
	}
	r.logger.Info("engine options applied", "count", len(r.batch))
}

// writeLoop drains the queue into the engine in FIFO order. A failed write stops the relay
// so that no later command overtakes the lost ones.
func (r *Relay) writeLoop(h engine.Handle) {
	for {
		select {
		case <-r.wake:
		case <-r.done:
			return
		}

		r.mu.Lock()
		if r.state != stateRunning {
			r.mu.Unlock()
			return
		}
		cmds := r.queue
		r.queue = nil
		r.writing = true
		r.mu.Unlock()

		for i, cmd := range cmds {
			if err := h.Send(cmd); err != nil {
				r.writeFailed(h, cmds[i:], err)
				return
			}
			r.logger.Debug("to engine", "line", cmd)
		}

		r.mu.Lock()
		r.writing = false
		if len(r.queue) == 0 {
			r.broadcastFlushedLocked()
		}
		r.mu.Unlock()
	}
}

// writeFailed handles a write error; unsent holds the failed command and those after it.
func (r *Relay) writeFailed(h engine.Handle, unsent []string, err error) {
	r.mu.Lock()
	lost := len(unsent) + len(r.queue)
	r.queue = nil
	r.writing = false
	r.broadcastFlushedLocked()

	if errors.Is(err, engine.ErrClosed) {
		// The handle is going away; Terminate or the reader finishes the relay.
		r.inputClosed = true
		r.mu.Unlock()
		if lost > 0 {
			r.logger.Warn("engine input closed, commands not delivered", "count", lost)
		}
		return
	}

	running := r.state == stateRunning
	if running {
		r.state = stateExited
		r.failure = fmt.Errorf("write to engine: %w", err)
	}
	r.mu.Unlock()

	r.logger.Error("write to engine failed", "command", unsent[0], "lost", lost, "error", err)
	if running {
		if cerr := h.Close(); cerr != nil {
			r.logger.Warn("release engine failed", "error", cerr)
		}
	}
	r.finish()
}

// Drain stops accepting commands, waits until everything accepted so far has been written to
// the engine, then closes the engine's input and waits for its output to end. When the caller
// started the handshake, Drain first waits for the sentinel so that the option batch is
// written too. Output keeps flowing to the caller meanwhile. Drain returns ctx.Err() if ctx
// expires first; Terminate must still be called to release the engine.
func (r *Relay) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateTerminated {
		r.mu.Unlock()
		return ErrTerminated
	}
	r.draining = true
	r.mu.Unlock()

	select {
	case <-r.acquired:
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := r.waitFlushed(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	awaitHandshake := r.handshakeSent && r.state == stateRunning
	r.mu.Unlock()
	if awaitHandshake {
		select {
		case <-r.readied:
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := r.waitFlushed(ctx); err != nil {
			return err
		}
	}

	r.mu.Lock()
	ic, canClose := r.handle.(engine.InputCloser)
	canClose = canClose && r.state == stateRunning && !r.inputClosed
	if canClose {
		r.inputClosed = true
	}
	r.mu.Unlock()
	if canClose {
		r.logger.Debug("closing engine input")
		if err := ic.CloseInput(); err != nil {
			r.logger.Warn("close engine input failed", "error", err)
		}
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitFlushed blocks until the queue is empty and the writer idle, or the engine is gone.
func (r *Relay) waitFlushed(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.state != stateRunning || r.inputClosed || (len(r.queue) == 0 && !r.writing) {
			r.mu.Unlock()
			return nil
		}
		flushed := r.flushed
		r.mu.Unlock()

		select {
		case <-flushed:
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) broadcastFlushedLocked() {
	close(r.flushed)
	r.flushed = make(chan struct{})
}

func (r *Relay) enqueueLocked(cmd string) {
	r.queue = append(r.queue, cmd)
	if r.state == stateRunning {
		r.signal()
	}
}

func (r *Relay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) emit(msg string) {
	if r.terminated.Load() || r.output == nil {
		return
	}
	r.output(msg)
}

func (r *Relay) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}
