package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/logging"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

// TestMain lets the test binary double as a minimal UCI engine for the run command.
func TestMain(m *testing.M) {
	if os.Getenv("UCIRELAY_FAKE_ENGINE") == "1" {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch line := scanner.Text(); line {
			case "uci":
				fmt.Println("id name Fake")
				fmt.Println("uciok")
			case "isready":
				fmt.Println("readyok")
			case "quit":
				os.Exit(0)
			default:
				fmt.Println("echo " + line)
			}
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// echoEngine answers uci/isready and stops on quit or at end of input.
type echoEngine struct {
	mu       sync.Mutex
	received []string
	stopped  bool
	lines    chan string
}

func newEchoEngine() *echoEngine { return &echoEngine{lines: make(chan string, 64)} }

func (e *echoEngine) Send(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return engine.ErrClosed
	}
	e.received = append(e.received, line)
	switch line {
	case "uci":
		e.lines <- "uciok"
	case "isready":
		e.lines <- "readyok"
	case "quit":
		e.stopLocked()
	}
	return nil
}

func (e *echoEngine) Lines() <-chan string { return e.lines }
func (e *echoEngine) Close() error         { return e.CloseInput() }

func (e *echoEngine) CloseInput() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *echoEngine) stopLocked() {
	if !e.stopped {
		e.stopped = true
		close(e.lines)
	}
}

func (e *echoEngine) Received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

func factoryFor(loader engine.Loader, batch uci.Batch, opts ...relay.Option) func(relay.OutputFunc) *relay.Relay {
	return func(output relay.OutputFunc) *relay.Relay {
		return relay.New(loader, batch, output, opts...)
	}
}

func TestRelayStdioRoundTrip(t *testing.T) {
	eng := newEchoEngine()
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) { return eng, nil })
	batch := uci.Batch{{Name: "Contempt", Value: "100"}}

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- relayStdio(context.Background(), inR, out, factoryFor(loader, batch), logging.Discard())
	}()

	_, err := io.WriteString(inW, "uci\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "uciok") }, 2*time.Second, 5*time.Millisecond)

	_, err = io.WriteString(inW, "isready\nquit\n")
	require.NoError(t, err)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relayStdio did not return after quit")
	}
	_ = inW.Close()

	assert.Equal(t, "uciok\nreadyok\n", out.String())
	assert.Equal(t, []string{"uci", "setoption name Contempt value 100", "isready", "quit"}, eng.Received())
}

func TestRelayStdioAcquisitionFailure(t *testing.T) {
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) { return nil, errors.New("boom") })
	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })
	out := &syncBuffer{}

	err := relayStdio(context.Background(), inR, out, factoryFor(loader, nil), logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "info string Error loading engine: boom\n", out.String())
}

func TestRelayStdioDeliversInputBeforeExit(t *testing.T) {
	eng := newEchoEngine()
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) { return eng, nil })
	batch := uci.Batch{{Name: "Contempt", Value: "100"}}
	out := &syncBuffer{}

	err := relayStdio(context.Background(), strings.NewReader("uci\nisready\n"), out, factoryFor(loader, batch), logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, "uciok\nreadyok\n", out.String())
	got := eng.Received()
	require.NotEmpty(t, got)
	assert.Equal(t, "uci", got[0])
	assert.ElementsMatch(t, []string{"uci", "setoption name Contempt value 100", "isready"}, got)
}

func TestRelayStdioFailureReportedOnce(t *testing.T) {
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) { return nil, errors.New("boom") })
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- relayStdio(context.Background(), inR, out, factoryFor(loader, nil), logging.Discard()) }()

	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 5*time.Millisecond)
	_, err := io.WriteString(inW, "uci\nisready\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relayStdio did not return")
	}
	assert.Equal(t, "info string Error loading engine: boom\n", out.String())
}

func TestRelayStdioReportsRejectedCommand(t *testing.T) {
	gate := make(chan struct{})
	eng := newEchoEngine()
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) {
		<-gate
		return eng, nil
	})
	inR, inW := io.Pipe()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- relayStdio(context.Background(), inR, out,
			factoryFor(loader, nil, relay.WithPendingPolicy(relay.PendingReject)), logging.Discard())
	}()

	_, err := io.WriteString(inW, "go depth 10\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 5*time.Millisecond)
	close(gate)
	require.NoError(t, inW.Close())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relayStdio did not return")
	}
	assert.Equal(t, "info string ucirelay: engine not acquired yet\n", out.String())
	assert.Empty(t, eng.Received())
}

func TestRelayStdioStopsOnCancel(t *testing.T) {
	eng := newEchoEngine()
	loader := engine.LoaderFunc(func(context.Context) (engine.Handle, error) { return eng, nil })
	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := relayStdio(ctx, inR, io.Discard, factoryFor(loader, nil), logging.Discard())
	require.NoError(t, err)
}

func executeCommand(t *testing.T, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	cmd := newRootCommand(&Options{ConfigPath: defaultConfigPath}, logging.Discard())
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	if in != nil {
		cmd.SetIn(in)
	}
	return cmd.Execute()
}

func TestProfilesList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, executeCommand(t, nil, &out, "profiles", "--log-level", "error"))

	text := out.String()
	for _, name := range []string{"attacker", "grinder*", "mittens", "pressure", "steady"} {
		assert.Contains(t, text, name)
	}
}

func TestProfilesShowWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: club
profiles:
  club:
    from: mittens
    options:
      - name: Hash
        value: 32
`), 0o644))

	var out bytes.Buffer
	require.NoError(t, executeCommand(t, nil, &out, "profiles", "show", "--config", path, "--set", "MultiPV=1"))

	text := out.String()
	assert.Contains(t, text, "# profile club")
	assert.Contains(t, text, "aliveMessage: readyok")
	assert.Contains(t, text, "setoption name Hash value 32")
	assert.Contains(t, text, "setoption name MultiPV value 1")
}

func TestProfilesShowUnknown(t *testing.T) {
	err := executeCommand(t, nil, io.Discard, "profiles", "show", "nope")
	require.Error(t, err)
}

func TestRunRequiresReadableConfig(t *testing.T) {
	err := executeCommand(t, strings.NewReader(""), io.Discard, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunCommandWithFakeEngine(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)
	t.Setenv("UCIRELAY_FAKE_ENGINE", "1")

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- executeCommand(t, inR, out, "run", "--profile", "grinder", "--engine-path", self, "--set", "Contempt=0")
	}()

	_, err = io.WriteString(inW, "uci\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "uciok") }, 5*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "isready\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "readyok") }, 5*time.Second, 10*time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "echo setoption name Contempt value 0")
	assert.Contains(t, text, "echo setoption name MultiPV value 3")
	assert.Less(t, strings.Index(text, "echo setoption name MultiPV value 3"), strings.Index(text, "readyok"))

	_, err = io.WriteString(inW, "quit\n")
	require.NoError(t, err)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after quit")
	}
	_ = inW.Close()
}

func TestUnknownLogLevelFails(t *testing.T) {
	err := executeCommand(t, nil, io.Discard, "profiles", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}
