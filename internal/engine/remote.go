package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codex-k8s/ucirelay/internal/logging"
)

const defaultFetchTimeout = 5 * time.Minute

// RemoteLoader downloads an engine executable into a temporary file and runs it.
// The temporary file lives exactly as long as the returned Handle.
type RemoteLoader struct {
	// URL is the engine payload location.
	URL string
	// SHA256 optionally pins the hex digest of the payload.
	SHA256 string
	// Args are passed to the engine.
	Args []string
	// Dir is the working directory of the engine.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// TempDir is where the payload is stored; empty means os.TempDir.
	TempDir string
	// Client performs the download; nil uses a client with a generous timeout.
	Client *http.Client
	// Logger receives download and process lifecycle events.
	Logger *slog.Logger
}

// Load fetches the payload and starts it.
func (l *RemoteLoader) Load(ctx context.Context) (Handle, error) {
	path, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	cleanup := func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove engine payload: %w", err)
		}
		return nil
	}
	proc, err := StartProcess(path, l.Args, ProcessOptions{
		Dir:     l.Dir,
		Env:     l.Env,
		Logger:  l.Logger,
		Cleanup: cleanup,
	})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return proc, nil
}

// fetch downloads the payload into an executable temporary file and returns its path.
func (l *RemoteLoader) fetch(ctx context.Context) (string, error) {
	logger := logging.OrDiscard(l.Logger)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build engine request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	logger.Info("fetching engine", "url", l.URL)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch engine: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch engine: unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp(l.TempDir, "ucirelay-engine-*")
	if err != nil {
		return "", fmt.Errorf("create engine payload file: %w", err)
	}
	path := f.Name()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hash), resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("download engine payload: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("download engine payload: empty response body")
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if want := strings.ToLower(strings.TrimSpace(l.SHA256)); want != "" && want != sum {
		_ = os.Remove(path)
		return "", fmt.Errorf("engine payload digest mismatch: got %s, want %s", sum, want)
	}

	if err := os.Chmod(path, 0o700); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("mark engine payload executable: %w", err)
	}

	logger.Debug("engine payload stored", "path", path, "bytes", n, "sha256", sum)
	return path, nil
}
