package relay

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxPending bounds the number of commands queued before the engine is acquired.
const DefaultMaxPending = 1024

// PendingPolicy decides what Send does before the engine handle exists.
type PendingPolicy int

const (
	// PendingQueue buffers commands and flushes them in order once the engine is acquired.
	PendingQueue PendingPolicy = iota
	// PendingReject fails Send with ErrNotReady.
	PendingReject
)

// String returns the configuration spelling of the policy.
func (p PendingPolicy) String() string {
	switch p {
	case PendingReject:
		return "reject"
	default:
		return "queue"
	}
}

// ParsePendingPolicy converts "queue" or "reject" into a PendingPolicy. Empty means queue.
func ParsePendingPolicy(value string) (PendingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "queue":
		return PendingQueue, nil
	case "reject":
		return PendingReject, nil
	default:
		return PendingQueue, fmt.Errorf("unknown pending policy %q, expected queue or reject", value)
	}
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSentinel overrides the handshake-completion message that triggers the option batch.
func WithSentinel(sentinel string) Option {
	return func(r *Relay) {
		if sentinel != "" {
			r.sentinel = sentinel
		}
	}
}

// WithAliveMessage makes the relay emit msg once the engine has been acquired.
func WithAliveMessage(msg string) Option {
	return func(r *Relay) { r.alive = msg }
}

// WithPendingPolicy selects the pre-acquisition behavior of Send.
func WithPendingPolicy(p PendingPolicy) Option {
	return func(r *Relay) { r.policy = p }
}

// WithMaxPending bounds the pre-acquisition queue; zero or less means unbounded.
func WithMaxPending(n int) Option {
	return func(r *Relay) { r.max = n }
}
