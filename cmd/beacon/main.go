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
	Use:   "beacon",
	Short: "Beacon - authenticated GPS tracker telemetry gateway",
	Long: `Beacon receives signed telemetry from a fleet of GPS trackers over MQTT,
keeps the last known state of every tracker, and serves it to event
organizers through event-scoped API keys.

Run 'beacon serve' on the gateway host. The other commands are an admin
client for a running server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Beacon version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Admin client flags
	rootCmd.PersistentFlags().String("server", envOr("BEACON_SERVER", "http://localhost:8080"), "Beacon server URL")
	rootCmd.PersistentFlags().String("ca-file", "", "CA certificate to verify the server")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(trackersCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
