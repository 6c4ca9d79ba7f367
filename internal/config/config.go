// Package config contains the loader and strongly typed model for ucirelay.yaml engine profiles.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/env"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

// DefaultProfile is used when neither the config file nor the environment names one.
const DefaultProfile = "grinder"

// File represents ucirelay.yaml after template rendering.
type File struct {
	// EnvFiles lists .env files loaded before rendering; their variables are visible to envOr.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Default names the profile used when none is selected explicitly.
	Default string `yaml:"default,omitempty"`
	// Profiles contains engine profiles keyed by name.
	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// Profile describes one relayed engine: where it comes from and how it is tuned.
type Profile struct {
	// Name is the profile key; it is filled in on resolution.
	Name string `yaml:"-"`
	// Description is a short human-readable summary.
	Description string `yaml:"description,omitempty"`
	// From references a preset or another profile to inherit from.
	From string `yaml:"from,omitempty"`
	// Engine locates the engine executable.
	Engine engine.Source `yaml:"engine,omitempty"`
	// Options is the ordered batch injected after the handshake.
	Options uci.Batch `yaml:"options,omitempty"`
	// Sentinel overrides the handshake-completion message (default "uciok").
	Sentinel string `yaml:"sentinel,omitempty"`
	// AliveMessage is emitted once the engine has been acquired, e.g. "readyok".
	AliveMessage string `yaml:"aliveMessage,omitempty"`
	// Pending configures what happens to commands sent before the engine exists.
	Pending PendingConfig `yaml:"pending,omitempty"`
}

// PendingConfig configures the pre-acquisition command contract.
type PendingConfig struct {
	// Policy is "queue" (default) or "reject".
	Policy string `yaml:"policy,omitempty"`
	// Max bounds the queue; zero keeps the default and a negative value means unbounded.
	Max int `yaml:"max,omitempty"`
}

// TemplateContext represents the data exposed to Go-templates when rendering ucirelay.yaml.
type TemplateContext struct {
	// ConfigDir is the directory containing the config file.
	ConfigDir string
	// EnvMap merges OS env and envFiles.
	EnvMap env.Vars
}

// rawHeader is a minimal struct used to extract top-level fields before templating.
type rawHeader struct {
	EnvFiles []string `yaml:"envFiles"`
}

// Load reads, templates and parses the config file. A missing file yields an empty File
// unless required is set.
func Load(path string, required bool) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return &File{}, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, fmt.Errorf("parse top-level config fields: %w", err)
	}

	baseDir := filepath.Dir(absPath)
	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, err
	}

	ctx := TemplateContext{
		ConfigDir: baseDir,
		EnvMap:    env.Merge(env.FromOS(), envFileVars),
	}
	rendered, err := RenderTemplate(filepath.Base(absPath), rawBytes, ctx)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(rendered, &file); err != nil {
		return nil, fmt.Errorf("parse rendered %s: %w", filepath.Base(absPath), err)
	}
	return &file, nil
}

// RenderTemplate renders YAML or text content using the config template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the template functions available in ucirelay.yaml.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default": funcDef,
		"toLower": strings.ToLower,
		"envOr":   funcEnvOr(ctx.EnvMap),
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

// Names lists every selectable profile: presets and file profiles, sorted.
func (f *File) Names() []string {
	seen := make(map[string]struct{})
	for name := range Presets() {
		seen[name] = struct{}{}
	}
	if f != nil {
		for name := range f.Profiles {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the profile selected when no explicit name is given.
func (f *File) DefaultName() string {
	if f != nil && strings.TrimSpace(f.Default) != "" {
		return strings.TrimSpace(f.Default)
	}
	return DefaultProfile
}

// Resolve returns the effective profile for name, following optional "from" links through
// file profiles and presets. A file profile inheriting from its own name extends the preset.
func Resolve(f *File, name string) (Profile, error) {
	if strings.TrimSpace(name) == "" {
		name = f.DefaultName()
	}
	presets := Presets()

	visited := make(map[string]struct{})
	var resolve func(current string, fromFile bool) (Profile, error)

	resolve = func(current string, fromFile bool) (Profile, error) {
		key := current
		if !fromFile {
			key = "preset:" + current
		}
		if _, seen := visited[key]; seen {
			return Profile{}, fmt.Errorf("profile inheritance cycle detected at %q", current)
		}
		visited[key] = struct{}{}

		var (
			prof Profile
			ok   bool
		)
		if fromFile && f != nil {
			prof, ok = f.Profiles[current]
		}
		if !ok {
			prof, ok = presets[current]
			fromFile = false
		}
		if !ok {
			return Profile{}, fmt.Errorf("profile %q is not defined", current)
		}

		if prof.From == "" {
			prof.Name = current
			return prof, nil
		}

		base, err := resolve(prof.From, !(fromFile && prof.From == current))
		if err != nil {
			return Profile{}, err
		}
		merged := merge(base, prof)
		merged.Name = current
		return merged, nil
	}

	return resolve(name, true)
}

// merge overlays child on base.
func merge(base, child Profile) Profile {
	merged := base
	merged.From = ""
	if child.Description != "" {
		merged.Description = child.Description
	}
	if child.Engine.URL != "" || child.Engine.Path != "" {
		merged.Engine = child.Engine
	} else {
		if len(child.Engine.Args) > 0 {
			merged.Engine.Args = child.Engine.Args
		}
		if child.Engine.Dir != "" {
			merged.Engine.Dir = child.Engine.Dir
		}
	}
	merged.Options = base.Options.Override(child.Options)
	if child.Sentinel != "" {
		merged.Sentinel = child.Sentinel
	}
	if child.AliveMessage != "" {
		merged.AliveMessage = child.AliveMessage
	}
	if child.Pending.Policy != "" {
		merged.Pending.Policy = child.Pending.Policy
	}
	if child.Pending.Max != 0 {
		merged.Pending.Max = child.Pending.Max
	}
	return merged
}

// Validate checks that the profile can drive a relay.
func (p Profile) Validate() error {
	if err := p.Engine.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if err := p.Options.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if _, err := relay.ParsePendingPolicy(p.Pending.Policy); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

// RelayOptions converts the profile into relay options.
func (p Profile) RelayOptions() ([]relay.Option, error) {
	policy, err := relay.ParsePendingPolicy(p.Pending.Policy)
	if err != nil {
		return nil, err
	}
	opts := []relay.Option{
		relay.WithPendingPolicy(policy),
		relay.WithSentinel(p.Sentinel),
		relay.WithAliveMessage(p.AliveMessage),
	}
	switch {
	case p.Pending.Max < 0:
		opts = append(opts, relay.WithMaxPending(0))
	case p.Pending.Max > 0:
		opts = append(opts, relay.WithMaxPending(p.Pending.Max))
	}
	return opts, nil
}
