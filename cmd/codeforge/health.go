package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codeforge/pkg/session"
)

func newHealthCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the model proxy and show credential rotation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			client, err := session.NewClient(cfg, nil)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			h, err := client.Health(ctx)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			if jsonOutput {
				data, err := json.MarshalIndent(h, "", "  ")
				if err != nil {
					return &exitError{code: exitFailed, err: err}
				}
				fmt.Fprintln(os.Stdout, string(data))
			} else {
				fmt.Fprint(os.Stdout, newRenderer(stdoutIsTerminal()).Health(cfg.Proxy.Base, h))
			}
			if !h.Healthy() {
				return &exitError{code: exitFailed}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the health report as JSON")
	return cmd
}
