package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/soapboxderby/derbynet-agent/pkg/derbynet"
	"github.com/spf13/cobra"
)

func newRaceStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "race-status",
		Short: "Poll DerbyNet once and print the current heat as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, _, log, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			if config.DerbyNet.URL == "" {
				return errors.New("derbynet.url is not configured")
			}
			client, err := derbynet.NewClient(config.DerbyNet.URL, config.DerbyNet.Role, config.DerbyNet.Password,
				config.DerbyNet.Timeout, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*config.DerbyNet.Timeout)
			defer cancel()
			status, err := client.GetRaceStatus(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}
