package dev

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fulcrumhq/fulcrum/cmd/config"
	"github.com/fulcrumhq/fulcrum/cmd/serve"
)

func NewCmd(vip *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the fulcrum server in development mode",
		Long:  "Start the fulcrum server with development-friendly defaults (in-memory store, debug logging).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(vip)
			if err != nil {
				return err
			}

			// development overrides
			cfg.Store.Kind = config.Memory
			cfg.LogLevel = "debug"

			return serve.Serve(cfg)
		},
	}

	config.SetDefaults(vip)

	return cmd
}
