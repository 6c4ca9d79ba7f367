package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

const (
	// quitGrace is how long run waits for the engine to exit after forwarding "quit".
	quitGrace = 2 * time.Second
	// drainGrace bounds how long run lets the engine finish after its input ended.
	drainGrace = 10 * time.Second
)

// newRunCommand creates the "run" subcommand that relays UCI over stdin/stdout.
func newRunCommand(opts *Options) *cobra.Command {
	var flags engineFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Relay a UCI engine over stdin/stdout",
		Long:  "Relay a UCI engine over stdin/stdout. Point a chess GUI at this command instead of the engine binary.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			prof, _, err := loadProfileFromCmd(opts, cmd, flags.overrides(opts.Profile))
			if err != nil {
				return err
			}
			loader, err := engine.NewLoader(prof.Engine, logger)
			if err != nil {
				return err
			}
			relayOpts, err := prof.RelayOptions()
			if err != nil {
				return err
			}
			relayOpts = append(relayOpts, relay.WithLogger(logger))

			logger.Info("relaying engine", "profile", prof.Name, "engine", prof.Engine.String(), "options", len(prof.Options))
			factory := func(output relay.OutputFunc) *relay.Relay {
				return relay.New(loader, prof.Options, output, relayOpts...)
			}
			return relayStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), factory, logger)
		},
	}

	addEngineFlags(cmd, &flags)
	return cmd
}

// relayStdio pumps lines from in to a relay and relay output to out until in is exhausted,
// the engine goes away or ctx is canceled. Once in is exhausted, every accepted command still
// reaches the engine and its remaining output still reaches out.
func relayStdio(ctx context.Context, in io.Reader, out io.Writer, factory func(relay.OutputFunc) *relay.Relay, logger *slog.Logger) error {
	var mu sync.Mutex
	w := bufio.NewWriter(out)
	output := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.WriteString(msg + "\n")
		if err := w.Flush(); err != nil {
			logger.Debug("write to caller failed", "error", err)
		}
	}

	rl := factory(output)
	defer func() {
		if err := rl.Terminate(); err != nil {
			logger.Warn("terminate relay failed", "error", err)
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				logger.Debug("input closed, draining engine")
				return drainStdio(ctx, rl, readErr, logger)
			}
			if err := rl.Send(line); err != nil {
				switch {
				case errors.Is(err, relay.ErrTerminated):
					return nil
				case errors.Is(err, relay.ErrUnavailable):
					// The caller already got the relay's diagnostic or sees output end.
					logger.Debug("command dropped, engine unavailable", "command", line, "error", err)
					continue
				}
				logger.Warn("command not relayed", "command", line, "error", err)
				output(uci.InfoString("ucirelay: " + err.Error()))
				continue
			}
			if strings.TrimSpace(line) == "quit" {
				select {
				case <-rl.Done():
				case <-time.After(quitGrace):
				}
				return nil
			}
		case <-rl.Done():
			if err := rl.Err(); err != nil {
				return fmt.Errorf("engine unavailable: %w", err)
			}
			logger.Info("engine finished")
			return nil
		case <-ctx.Done():
			logger.Info("interrupted")
			return nil
		}
	}
}

// drainStdio lets the engine consume what the caller already sent before run returns.
func drainStdio(ctx context.Context, rl *relay.Relay, readErr <-chan error, logger *slog.Logger) error {
	drainCtx, cancel := context.WithTimeout(ctx, drainGrace)
	defer cancel()
	if err := rl.Drain(drainCtx); err != nil {
		logger.Warn("engine did not finish after end of input", "error", err)
	}

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	default:
	}
	if err := rl.Err(); err != nil {
		return fmt.Errorf("engine unavailable: %w", err)
	}
	return nil
}
