// v1
// cmd/riegod/cmd_zones.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rlpzx/auto-riego/internal/config"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Print the configured zone table",
	RunE:  runZones,
}

func init() {
	rootCmd.AddCommand(zonesCmd)
}

func runZones(cmd *cobra.Command, args []string) error {
	path := config.PropertiesPath()
	zones, cfgs, err := config.LoadZoneTable(path)
	if err != nil {
		return err
	}
	fmt.Printf("Zone table from %s\n", path)
	for _, z := range zones {
		c := cfgs[z]
		fmt.Printf("%-12s threshold=%.1f tempHigh=%.1f tempLow=%.1f\n",
			z, c.SoilThreshold, c.TempHigh, c.TempLow)
	}
	return nil
}
