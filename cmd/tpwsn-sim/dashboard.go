package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tpwsn-sim/internal/dashboard"
	"tpwsn-sim/internal/logging"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the Grafana dashboard for the GreptimeDB run tables",
	Long: "Renders the Grafana dashboard JSON into --out. The datasource UID is read from " +
		dashboard.DatasourceEnv + ".",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := dashboard.Render(dashboardOut, dashboard.DefaultTables())
		if err != nil {
			return err
		}
		log := logging.FromContext(cmd.Context())
		for _, p := range paths {
			log.Info("dashboard written", "path", p)
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
