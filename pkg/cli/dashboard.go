package cli

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/phinze/serialdetect/pkg/opener"
	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the daemon's dashboard in the browser",
		Long: `Opens the live event page served by serialdetectd. The daemon must run
with http.address set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url, err := dashboardURL(cfg.HTTP.Address)
			if err != nil {
				return err
			}
			if verbose {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return opener.New(slog.Default()).OpenURL(url)
		},
	}
}

// dashboardURL maps the daemon's HTTP listen address to a browsable URL.
func dashboardURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("http.address is not configured")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid http address %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/", nil
}
