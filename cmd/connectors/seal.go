package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/security"
)

func sealCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seal [value]",
		Short: "Seal a secret with the configured app key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			sealer, err := newSealer(cfg.Secrets)
			if err != nil {
				return err
			}
			if sealer == nil {
				return fmt.Errorf("secrets.app_key is not configured")
			}
			sealed, err := sealer.Seal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

func newSealer(cfg core.SecretsConfig) (*security.AppKeySealer, error) {
	key := strings.TrimSpace(cfg.AppKey)
	if key == "" {
		return nil, nil
	}
	return security.NewAppKeySealer([]byte(key))
}

func newSecretResolver(cfg core.SecretsConfig) (*security.SecretResolver, error) {
	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}
	return security.NewSecretResolver(sealer, cfg.Values), nil
}
