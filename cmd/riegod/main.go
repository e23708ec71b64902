// v1
// cmd/riegod/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "riegod",
	Short: "auto-riego - zone irrigation controller",
	Long: `riegod ingests soil and climate readings from field devices, keeps the
latest state of every irrigation zone, drives the valves from per-zone
moisture thresholds, and fans updates out to dashboards and brokers.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
