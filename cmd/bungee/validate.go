package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeffusion/bungee/internal/gwconfig"
	"github.com/jeffusion/bungee/internal/upstream"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load configuration, apply defaults, and report the resolved routes without serving",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "bungee.yaml", "path to the gateway's YAML configuration")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := gwconfig.Load(validateConfigPath)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	registry := upstream.NewRegistry()
	registry.BuildFromConfig(cfg.RouteConfigs())

	fmt.Printf("listen addr: %s\n", cfg.Server.Addr)
	count := 0
	registry.ForEachRoute(func(rs *upstream.RouteState) {
		count++
		fmt.Printf("route %s: %d upstream(s), consecutiveFailuresThreshold=%d healthyThreshold=%d requestTimeoutMs=%d healthCheck.enabled=%t\n",
			rs.Path, len(rs.Upstreams), rs.Failover.ConsecutiveFailuresThreshold, rs.Failover.HealthyThreshold,
			rs.Failover.RequestTimeoutMs, rs.HealthCheck.Enabled)
		for _, u := range rs.Upstreams {
			fmt.Printf("  - %s weight=%d priority=%d disabled=%t\n", u.Target, u.Weight, u.Priority, u.Disabled)
		}
	})

	skipped := len(cfg.Routes) - count
	if skipped > 0 {
		fmt.Printf("%d route(s) configured without failover.enabled or upstreams; not managed by the reliability subsystem\n", skipped)
	}
	return nil
}
