package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "Drey - control plane for managed databases and storage",
	Long: `Drey is a control plane for managed infrastructure resources:
PostgreSQL, MariaDB, Redis and Valkey databases plus Ceph and SAN
storage systems.

It provisions full-lifecycle resources onto a cluster, operates
pre-existing external resources through type-specific connectors, and
runs background workers for backups, certificate rotation, metrics
collection and user synchronization.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Drey version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
}
