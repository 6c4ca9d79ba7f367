package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/ucirelay/internal/config"
)

// engineFlags holds per-command engine overrides.
type engineFlags struct {
	path    string
	url     string
	sha256  string
	set     []string
	pending string
}

func addEngineFlags(cmd *cobra.Command, f *engineFlags) {
	cmd.Flags().StringVar(&f.path, "engine-path", "", "Local engine executable (path or name in PATH)")
	cmd.Flags().StringVar(&f.url, "engine-url", "", "Remote engine executable to download on start")
	cmd.Flags().StringVar(&f.sha256, "engine-sha256", "", "Expected SHA-256 of the downloaded engine")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "Override an engine option, Name=Value (repeatable)")
	cmd.Flags().StringVar(&f.pending, "pending", "", "Commands sent before the engine is loaded: queue or reject")
}

func (f engineFlags) overrides(profile string) config.Overrides {
	return config.Overrides{
		Profile:      profile,
		EnginePath:   f.path,
		EngineURL:    f.url,
		EngineSHA256: f.sha256,
		Options:      strings.Join(f.set, ","),
		Pending:      f.pending,
	}
}

// loadProfileFromCmd resolves the effective profile: preset < config file < UCIRELAY_* env < flags.
func loadProfileFromCmd(opts *Options, cmd *cobra.Command, flagOverrides config.Overrides) (config.Profile, config.Overrides, error) {
	file, err := config.Load(opts.ConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Profile{}, config.Overrides{}, err
	}

	envOverrides, err := config.OverridesFromEnv(nil)
	if err != nil {
		return config.Profile{}, config.Overrides{}, err
	}
	merged := envOverrides.Merge(flagOverrides)

	prof, err := config.Resolve(file, merged.Profile)
	if err != nil {
		return config.Profile{}, config.Overrides{}, err
	}
	prof, err = merged.Apply(prof)
	if err != nil {
		return config.Profile{}, config.Overrides{}, err
	}
	if err := prof.Validate(); err != nil {
		return config.Profile{}, config.Overrides{}, err
	}
	return prof, merged, nil
}
