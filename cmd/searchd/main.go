// Searchd is a hybrid retrieval daemon combining BM25 keyword search
// with dense vector search over a shared chunk index.
//
// Usage:
//
//	# Start the server with defaults (embedded chromem store)
//	searchd serve
//
//	# Start with a config file
//	searchd serve --config /etc/searchd/config.yaml
//
// Configuration can also be supplied via environment variables
// (SERVER_PORT, SEARCH_FUSION_METHOD, etc.); see internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "searchd",
		Short:         "Hybrid sparse+dense retrieval daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("searchd\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", gitCommit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	}
}
