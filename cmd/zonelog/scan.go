package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/transport"
	"github.com/srg/zonelog/internal/transport/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for supported devices",
	Long: `Scans for advertisements and lists peripherals matching the supported
device families (treadmill, heart-rate strap). Useful to verify both
devices are powered on and advertising before starting a run.

Examples:
  # Default 10 second scan
  zonelog scan

  # Longer scan, include unmatched devices
  zonelog scan --timeout 30s --all`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanTimeout time.Duration
	scanAll     bool
)

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertisement, not only matching families")
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	profiles := []profile.Profile{
		profile.NewTreadmill(0),
		profile.NewHeartRate(0),
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	tr := goble.New(logger)
	seen := make(map[string]bool)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tNAME\tADDRESS\tRSSI")

	err = tr.Scan(ctx, false, func(adv transport.Advertisement) {
		if seen[adv.Addr()] {
			return
		}
		family := ""
		for _, p := range profiles {
			if p.Match(adv) {
				family = p.Family().String()
				break
			}
		}
		if family == "" && !scanAll {
			return
		}
		seen[adv.Addr()] = true
		name := adv.LocalName()
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", family, name, adv.Addr(), adv.RSSI())
	})
	if err != nil {
		return err
	}
	return w.Flush()
}
