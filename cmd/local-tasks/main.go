package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kylemclaren/local-tasks/internal/tui"
	"github.com/kylemclaren/local-tasks/internal/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "local-tasks",
	Short: "Schedule and run local programs, scripts, actions and HTTP calls",
	Long: `local-tasks - a local job scheduler

Jobs fire on weekday masks, specific dates or days of the month, run a program,
batch script, built-in action or HTTP request, and record one run per scheduled
minute.

Usage:
  local-tasks              Browse jobs and run history
  local-tasks daemon       Run the scheduler in the foreground (for services)
  local-tasks serve        Run the management API together with the scheduler
  local-tasks runs         Print recent runs
  local-tasks version      Show version information

Environment Variables:
  LOCAL_TASKS_DATA_DIR     Override data directory (default: ~/.local-tasks)
  LOCAL_TASKS_*            Override any configuration key, e.g. LOCAL_TASKS_API_ADDR`,
	SilenceUsage: true,
	RunE:         runViewer,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management API and the scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

var serveAddr string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: <data_dir>/local-tasks.toml)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides api.addr)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to print")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runViewer(cmd *cobra.Command, args []string) error {
	a, err := newApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	if pid, running := isDaemonRunning(a.cfg.PIDPath()); running {
		fmt.Printf("Daemon running (PID %d)\n", pid)
	}
	return tui.Run(a.store)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
