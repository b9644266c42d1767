package cli

import (
	"fmt"
	"os"

	"github.com/phinze/serialdetect/pkg/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display the effective configuration",
		Long:  `Displays the configuration after defaults, the config file and flags are applied.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, _ = fmt.Fprintf(out, "%s", data)

			if cfg.Network == "unix" {
				if _, err := os.Stat(cfg.Address); err == nil {
					_, _ = fmt.Fprintf(out, "\nSocket Status: Active\n")
				} else if os.IsNotExist(err) {
					_, _ = fmt.Fprintf(out, "\nSocket Status: Not found (daemon may not be running)\n")
				}
			}

			path := configPath
			if path == "" {
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil {
				_, _ = fmt.Fprintf(out, "Config File: %s (found)\n", path)
			} else {
				_, _ = fmt.Fprintf(out, "Config File: %s (not found, using defaults)\n", path)
			}
			return nil
		},
	}
}
