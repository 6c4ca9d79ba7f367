package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/ucirelay/internal/config"
)

// newProfilesCommand creates the "profiles" group for inspecting presets and file profiles.
func newProfilesCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List engine profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := config.Load(opts.ConfigPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			def := file.DefaultName()
			for _, name := range file.Names() {
				prof, err := config.Resolve(file, name)
				if err != nil {
					return err
				}
				marker := ""
				if name == def {
					marker = "*"
				}
				_, _ = fmt.Fprintf(tw, "%s%s\t%d options\t%s\n", name, marker, len(prof.Options), prof.Description)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(newProfilesShowCommand(opts))
	return cmd
}

// newProfilesShowCommand prints a resolved profile and the commands it injects.
func newProfilesShowCommand(opts *Options) *cobra.Command {
	var flags engineFlags

	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show a resolved profile and its setoption commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := opts.Profile
			if len(args) == 1 {
				name = args[0]
			}
			prof, _, err := loadProfileFromCmd(opts, cmd, flags.overrides(name))
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(prof)
			if err != nil {
				return fmt.Errorf("encode profile: %w", err)
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "# profile %s\n%s\n# injected after uciok:\n", prof.Name, out)
			for _, line := range prof.Options.Commands() {
				_, _ = fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	addEngineFlags(cmd, &flags)
	return cmd
}
