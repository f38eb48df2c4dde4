package main

import (
	"github.com/spf13/cobra"

	"github.com/wilhg/toolagent/pkg/errmodel"
)

func newMCPCommand(opt *Options) *cobra.Command {
	var transport string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the built-in tools as an MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := newMCPServer(*opt)
			if err != nil {
				return err
			}
			switch transport {
			case "stdio":
				return srv.ServeStdio(cmd.Context())
			case "http":
				return serve(cmd.Context(), opt.Addr, srv.Handler())
			default:
				return errmodel.Configuration("unknown_transport", "transport must be stdio or http", map[string]any{"transport": transport})
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio, http)")
	cmd.Flags().StringVar(&opt.Addr, "addr", opt.Addr, "http listen address for the http transport")
	return cmd
}
