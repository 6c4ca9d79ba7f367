// Package server exposes relays over WebSocket so that browser hosts can drive an engine.
// Every connection owns an independent relay and engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/codex-k8s/ucirelay/internal/logging"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

const (
	// readLimit bounds a single inbound frame.
	readLimit = 64 * 1024
	// shutdownTimeout bounds graceful shutdown in Run.
	shutdownTimeout = 10 * time.Second
)

// RelayFactory builds a relay that reports engine output through output.
type RelayFactory func(output relay.OutputFunc) *relay.Relay

// Handler upgrades requests to WebSocket and bridges frames to a relay.
type Handler struct {
	newRelay RelayFactory
	logger   *slog.Logger
	origins  []string
}

// NewHandler constructs a Handler. origins are host patterns allowed to connect cross-origin.
func NewHandler(factory RelayFactory, logger *slog.Logger, origins ...string) *Handler {
	return &Handler{
		newRelay: factory,
		logger:   logging.OrDiscard(logger),
		origins:  origins,
	}
}

// ServeHTTP runs one relay for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := h.logger.With("remote", r.RemoteAddr)
	logger.Info("client connected")

	output := func(msg string) {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			logger.Debug("write to client failed", "error", err)
			cancel()
		}
	}
	rl := h.newRelay(output)
	defer func() {
		if err := rl.Terminate(); err != nil {
			logger.Warn("terminate relay failed", "error", err)
		}
		logger.Info("client disconnected")
	}()

	go func() {
		select {
		case <-rl.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "engine finished")
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("client closed connection")
			default:
				if !errors.Is(err, context.Canceled) {
					logger.Debug("read from client failed", "error", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Debug("ignoring binary frame")
			continue
		}
		// One frame is one command, passed on untouched.
		cmd := string(data)
		if err := rl.Send(cmd); err != nil {
			if errors.Is(err, relay.ErrUnavailable) || errors.Is(err, relay.ErrTerminated) {
				// The relay already reported the failure, or the socket is about to close.
				logger.Debug("command dropped, engine unavailable", "command", cmd, "error", err)
				continue
			}
			logger.Warn("command not relayed", "command", cmd, "error", err)
			output(uci.InfoString("ucirelay: " + err.Error()))
		}
	}
}

// NewMux routes the WebSocket endpoint and a health check.
func NewMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/uci", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Run serves h on addr until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked WebSocket connections ignore Shutdown; they stop when ctx does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}
