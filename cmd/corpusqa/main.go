package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "corpusqa",
		Short: "Map-reduce question answering over a document corpus",
		Long: `corpusqa answers a question against every document of a corpus in
parallel, then consolidates the per-document answers into one final answer.
Each execution is a resumable run: its map results are persisted as they
complete, and the reduce phase can be re-run on its own.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
