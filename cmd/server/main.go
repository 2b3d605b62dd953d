package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "none"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "monview",
	Short: "Live monitoring views for your machines",
	Long: `monview serves the monitoring view of every registered machine.

Graphs, rules and the enable/disable flows are kept in sync with the
backend and pushed to browsers over server-sent events.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("monview %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("go: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default: search MONVIEW_CONFIG, ./monview.yaml, user config dir)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
