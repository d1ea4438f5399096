// Command orchestrator drives the router, planner, and DAG executor from
// the command line: route a query to a flow, materialize it into a plan,
// execute the plan, and inspect a run's progress — a thin cobra shell over
// the same core types a real HTTP ingress would wire.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kunal-debug-png/GoComet/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Route, plan, and execute multi-agent task graphs",
	Long: "orchestrator routes a natural-language query to a flow kind, plans\n" +
		"it into a DAG of tool and agent nodes, executes the DAG against the\n" +
		"Capability Index, and reports on runs in flight.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	if err := config.BindFlags(rootCmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig re-reads the --config flag off the root command and runs it
// through config.LoadWith against the same viper instance BindFlags bound
// the persistent flags to, so a flag the user passed on this invocation
// still wins over the file and environment.
func loadConfig() (config.Config, error) {
	configFile, _ := rootCmd.PersistentFlags().GetString("config")
	return config.LoadWith(v, configFile)
}
