package cli

import (
	"github.com/spf13/cobra"

	"github.com/codex-k8s/ucirelay/internal/engine"
	"github.com/codex-k8s/ucirelay/internal/relay"
	"github.com/codex-k8s/ucirelay/internal/server"
)

// defaultListen is the serve address when neither --listen nor UCIRELAY_LISTEN is set.
const defaultListen = "127.0.0.1:8080"

// newServeCommand creates the "serve" subcommand that relays engines over WebSocket.
func newServeCommand(opts *Options) *cobra.Command {
	var (
		flags   engineFlags
		listen  string
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay UCI engines to WebSocket clients",
		Long:  "Serve ws://<listen>/uci. Each connection gets its own engine process and option batch; text frames carry UCI lines.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			overrides := flags.overrides(opts.Profile)
			if cmd.Flags().Changed("listen") {
				overrides.Listen = listen
			}
			prof, merged, err := loadProfileFromCmd(opts, cmd, overrides)
			if err != nil {
				return err
			}
			addr := merged.Listen
			if addr == "" {
				addr = listen
			}

			loader, err := engine.NewLoader(prof.Engine, logger)
			if err != nil {
				return err
			}
			relayOpts, err := prof.RelayOptions()
			if err != nil {
				return err
			}

			factory := func(output relay.OutputFunc) *relay.Relay {
				perConn := append(relayOpts[:len(relayOpts):len(relayOpts)], relay.WithLogger(logger.With("profile", prof.Name)))
				return relay.New(loader, prof.Options, output, perConn...)
			}
			handler := server.NewHandler(factory, logger, origins...)

			logger.Info("serving profile", "profile", prof.Name, "engine", prof.Engine.String(), "path", "/uci")
			return server.Run(cmd.Context(), addr, server.NewMux(handler), logger)
		},
	}

	addEngineFlags(cmd, &flags)
	cmd.Flags().StringVar(&listen, "listen", defaultListen, "Address to listen on (env UCIRELAY_LISTEN)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "Allowed cross-origin host patterns (repeatable)")
	return cmd
}
