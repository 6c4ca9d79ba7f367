package config

import (
	"fmt"
	"strings"

	envparse "github.com/caarlos0/env/v11"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/uci"
)

// Overrides carries per-invocation settings from UCIRELAY_* variables or command-line flags.
// Empty fields leave the profile untouched.
type Overrides struct {
	// Profile selects the profile from UCIRELAY_PROFILE.
	Profile string `env:"UCIRELAY_PROFILE"`
	// EnginePath is a local engine from UCIRELAY_ENGINE_PATH.
	EnginePath string `env:"UCIRELAY_ENGINE_PATH"`
	// EngineURL is a remote engine from UCIRELAY_ENGINE_URL.
	EngineURL string `env:"UCIRELAY_ENGINE_URL"`
	// EngineSHA256 pins the remote payload from UCIRELAY_ENGINE_SHA256.
	EngineSHA256 string `env:"UCIRELAY_ENGINE_SHA256"`
	// Options is an inline batch ("Contempt=60,Skill Level=10") from UCIRELAY_OPTIONS.
	Options string `env:"UCIRELAY_OPTIONS"`
	// Pending is the pending policy from UCIRELAY_PENDING.
	Pending string `env:"UCIRELAY_PENDING"`
	// LogLevel is the log level from UCIRELAY_LOG_LEVEL.
	LogLevel string `env:"UCIRELAY_LOG_LEVEL"`
	// Listen is the serve address from UCIRELAY_LISTEN.
	Listen string `env:"UCIRELAY_LISTEN"`
}

// OverridesFromEnv fills Overrides from environ, or from the process environment when environ is nil.
func OverridesFromEnv(environ map[string]string) (Overrides, error) {
	var out Overrides
	var err error
	if environ == nil {
		err = envparse.Parse(&out)
	} else {
		err = envparse.ParseWithOptions(&out, envparse.Options{Environment: environ})
	}
	if err != nil {
		return Overrides{}, fmt.Errorf("parse UCIRELAY_* environment: %w", err)
	}
	return out, nil
}

// Merge returns o with every non-empty field of later taking precedence.
func (o Overrides) Merge(later Overrides) Overrides {
	pick := func(a, b string) string {
		if strings.TrimSpace(b) != "" {
			return b
		}
		return a
	}
	out := Overrides{
		Profile:      pick(o.Profile, later.Profile),
		EnginePath:   pick(o.EnginePath, later.EnginePath),
		EngineURL:    pick(o.EngineURL, later.EngineURL),
		EngineSHA256: pick(o.EngineSHA256, later.EngineSHA256),
		Pending:      pick(o.Pending, later.Pending),
		LogLevel:     pick(o.LogLevel, later.LogLevel),
		Listen:       pick(o.Listen, later.Listen),
	}
	switch {
	case o.Options == "":
		out.Options = later.Options
	case later.Options == "":
		out.Options = o.Options
	default:
		out.Options = o.Options + "," + later.Options
	}
	if later.EnginePath != "" && later.EngineURL == "" {
		out.EngineURL, out.EngineSHA256 = "", ""
	}
	if later.EngineURL != "" && later.EnginePath == "" {
		out.EnginePath = ""
		out.EngineSHA256 = later.EngineSHA256
	}
	return out
}

// Apply overlays o on p.
func (o Overrides) Apply(p Profile) (Profile, error) {
	out := p
	out.Options = p.Options.Clone()

	switch {
	case o.EnginePath != "" && o.EngineURL != "":
		return Profile{}, fmt.Errorf("engine path and engine url overrides are mutually exclusive")
	case o.EnginePath != "":
		out.Engine = engine.Source{Path: o.EnginePath, Args: p.Engine.Args, Dir: p.Engine.Dir}
	case o.EngineURL != "":
		out.Engine = engine.Source{URL: o.EngineURL, SHA256: o.EngineSHA256, Args: p.Engine.Args, Dir: p.Engine.Dir}
	case o.EngineSHA256 != "":
		out.Engine.SHA256 = o.EngineSHA256
	}

	if strings.TrimSpace(o.Options) != "" {
		batch, err := uci.ParseBatch(o.Options)
		if err != nil {
			return Profile{}, fmt.Errorf("parse option overrides: %w", err)
		}
		out.Options = out.Options.Override(batch)
	}

	if o.Pending != "" {
		if _, err := relay.ParsePendingPolicy(o.Pending); err != nil {
			return Profile{}, err
		}
		out.Pending.Policy = o.Pending
	}
	return out, nil
}
