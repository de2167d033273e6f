package cli

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

const redacted = "REDACTED"

// NewConfigCommand creates the config command, which prints the effective
// configuration after file, environment and flag overrides.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "config",
		Short:         "Print the effective configuration as TOML",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Artifacts.S3.SecretAccessKey != "" {
				cfg.Artifacts.S3.SecretAccessKey = redacted
			}
			if cfg.Store.DSN != "" {
				cfg.Store.DSN = redacted
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}
