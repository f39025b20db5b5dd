// bidctl is the operator CLI for a running bidengine server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:          "bidctl",
	Short:        "Operate a bidengine server",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BIDCTL_SERVER", "http://localhost:8080"), "bidengine base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BIDCTL_TOKEN"), "operator token (from bidctl login)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
