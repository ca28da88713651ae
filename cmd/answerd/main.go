// Answerd is a multi-tenant question answering daemon.
//
// It ingests tenant documents into an isolated vector corpus and
// answers questions against that corpus with cited, confidence-scored
// responses over HTTP.
//
// Usage:
//
//	# Start the server with defaults
//	answerd serve
//
//	# Use an explicit config file
//	answerd serve --config /etc/answerd/config.yaml
//
//	# Register a tenant directly against the store
//	answerd tenant add --slug acme --name "Acme Corp" --api-key sk-...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "answerd",
	Short: "Multi-tenant document question answering service",
	Long: `answerd ingests tenant documents and answers questions against them
with citations and confidence scores. Each tenant's corpus, credentials,
and audit log are fully isolated.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("answerd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/answerd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
