package cli

import (
	"github.com/datallboy/packman/internal/api"
	"github.com/spf13/cobra"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server that provides:
  - REST API to start, pause, resume, cancel and remove packs
  - WebSocket stream of pack state changes at /api/events

Interrupted downloads are left paused on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := bootstrap(ctx, ro, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if port != "" {
				a.Config.Port = port
			}

			return api.Serve(ctx, a)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides config)")

	return cmd
}
