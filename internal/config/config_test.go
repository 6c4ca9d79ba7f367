package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ucirelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPresetsValidate(t *testing.T) {
	for name := range Presets() {
		prof, err := Resolve(&File{}, name)
		require.NoError(t, err, name)
		assert.NoError(t, prof.Validate(), name)
		assert.NotEmpty(t, prof.Options, name)
	}
}

func TestResolveDefault(t *testing.T) {
	prof, err := Resolve(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, prof.Name)
	assert.Equal(t, "setoption name Contempt value 100", prof.Options[0].Command())
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve(&File{}, "nope")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Empty(t, f.Profiles)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.Error(t, err)
}

func TestLoadRendersTemplateWithEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.env"), []byte("ENGINE_BIN=/opt/sf/stockfish\nCONTEMPT=42\n"), 0o644))
	path := writeConfig(t, dir, `
envFiles: [engine.env]
default: club
profiles:
  club:
    from: mittens
    engine:
      path: {{ envOr "ENGINE_BIN" "stockfish" }}
    options:
      - name: Contempt
        value: {{ envOr "CONTEMPT" "100" }}
      - name: UCI_ShowWDL
        value: true
    pending:
      policy: reject
`)

	f, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "club", f.DefaultName())
	assert.Contains(t, f.Names(), "club")
	assert.Contains(t, f.Names(), "grinder")

	prof, err := Resolve(f, "")
	require.NoError(t, err)
	require.NoError(t, prof.Validate())

	assert.Equal(t, "club", prof.Name)
	assert.Equal(t, engine.Source{Path: "/opt/sf/stockfish"}, prof.Engine)
	assert.Equal(t, uci.ReadyOK, prof.AliveMessage)
	assert.Equal(t, "reject", prof.Pending.Policy)
	assert.Equal(t, uci.Batch{
		{Name: "Hash", Value: "64"},
		{Name: "Contempt", Value: "42"},
		{Name: "Threads", Value: "1"},
		{Name: "Skill Level", Value: "20"},
		{Name: "Ponder", Value: "true"},
		{Name: "MultiPV", Value: "3"},
		{Name: "UCI_ShowWDL", Value: "true"},
	}, prof.Options)
}

func TestResolveSelfNamedProfileExtendsPreset(t *testing.T) {
	f := &File{Profiles: map[string]Profile{
		"grinder": {From: "grinder", Options: uci.Batch{{Name: "MultiPV", Value: "1"}}},
	}}
	prof, err := Resolve(f, "grinder")
	require.NoError(t, err)
	assert.Equal(t, "1", prof.Options[3].Value)
	assert.Equal(t, "stockfish", prof.Engine.Path)
}

func TestResolveCycle(t *testing.T) {
	f := &File{Profiles: map[string]Profile{
		"a": {From: "b"},
		"b": {From: "a"},
	}}
	_, err := Resolve(f, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestProfileValidate(t *testing.T) {
	prof := Profile{Name: "x", Engine: engine.Source{Path: "sf"}, Pending: PendingConfig{Policy: "drop"}}
	require.Error(t, prof.Validate())

	prof.Pending.Policy = ""
	prof.Options = uci.Batch{{Name: "", Value: "1"}}
	require.Error(t, prof.Validate())

	prof.Options = nil
	prof.Engine = engine.Source{}
	require.Error(t, prof.Validate())
}

func TestRelayOptions(t *testing.T) {
	prof := Presets()["mittens"]
	prof.Pending.Max = -1
	opts, err := prof.RelayOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	prof.Pending.Policy = "bogus"
	_, err = prof.RelayOptions()
	require.Error(t, err)
}

func TestOverridesFromEnv(t *testing.T) {
	o, err := OverridesFromEnv(map[string]string{
		"UCIRELAY_PROFILE":     "steady",
		"UCIRELAY_ENGINE_PATH": "/usr/games/stockfish",
		"UCIRELAY_OPTIONS":     "Threads=2",
		"UCIRELAY_LISTEN":      ":9000",
	})
	require.NoError(t, err)
	assert.Equal(t, Overrides{
		Profile:    "steady",
		EnginePath: "/usr/games/stockfish",
		Options:    "Threads=2",
		Listen:     ":9000",
	}, o)
}

func TestOverridesApply(t *testing.T) {
	base := Presets()["grinder"]

	prof, err := Overrides{EngineURL: "https://example.com/sf", EngineSHA256: "abc", Options: "Contempt=0,Hash=128", Pending: "reject"}.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, engine.Source{URL: "https://example.com/sf", SHA256: "abc"}, prof.Engine)
	assert.Equal(t, "0", prof.Options[0].Value)
	assert.Equal(t, uci.Option{Name: "Hash", Value: "128"}, prof.Options[len(prof.Options)-1])
	assert.Equal(t, "reject", prof.Pending.Policy)
	assert.Equal(t, "100", base.Options[0].Value, "base profile must not change")

	_, err = Overrides{EnginePath: "a", EngineURL: "b"}.Apply(base)
	require.Error(t, err)
	_, err = Overrides{Options: "Contempt"}.Apply(base)
	require.Error(t, err)
	_, err = Overrides{Pending: "drop"}.Apply(base)
	require.Error(t, err)
}

func TestOverridesMerge(t *testing.T) {
	fromEnv := Overrides{Profile: "steady", EngineURL: "https://example.com/sf", EngineSHA256: "abc", Options: "Threads=2"}
	fromFlags := Overrides{EnginePath: "./sf", Options: "Hash=32"}

	got := fromEnv.Merge(fromFlags)
	assert.Equal(t, Overrides{
		Profile:    "steady",
		EnginePath: "./sf",
		Options:    "Threads=2,Hash=32",
	}, got)
}
