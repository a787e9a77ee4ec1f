package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rapidclip",
		Short: "Timeline clipping service",
		Long: `rapidclip keeps media source timelines and serves clipped views of them.

Features:
  - Register sources and publish timeline updates over HTTP
  - Wrap a source in a clipping source restricted to [start, end)
  - Persist timeline snapshots to local disk, SQLite or GCS
  - Probe MP4 and static DASH files into timelines`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newClipCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rapidclip version %s\n", Version)
		},
	}
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
