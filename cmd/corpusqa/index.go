package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"corpusqa/internal/config"
	"corpusqa/internal/indexer"
	"corpusqa/internal/observer"
)

var (
	indexStats        bool
	indexFingerprints bool
	indexWatch        bool
	indexCategories   []string
)

func init() {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "List the indexed corpus",
		RunE:  runIndex,
	}
	indexCmd.Flags().BoolVar(&indexStats, "stats", false, "print per-category statistics instead of the document list")
	indexCmd.Flags().BoolVar(&indexFingerprints, "fingerprints", false, "include content fingerprints")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep watching the corpus and re-report on changes")
	indexCmd.Flags().StringSliceVar(&indexCategories, "category", nil, "restrict to these categories")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root := config.ExpandPath(cfg.Corpus.Root)

	if err := printIndex(root, cfg.Corpus.Pattern); err != nil {
		return err
	}
	if !indexWatch {
		return nil
	}

	watcher, err := observer.NewCorpusWatcher(root, cfg.Corpus.Pattern, func(files []string) {
		fmt.Printf("\n%d file(s) changed, re-indexing\n", len(files))
		if err := printIndex(root, cfg.Corpus.Pattern); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
	if err != nil {
		return err
	}
	watcher.Start(cmd.Context())
	defer watcher.Stop()

	fmt.Fprintln(os.Stderr, "watching for changes, Ctrl-C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func printIndex(root, pattern string) error {
	idx, err := indexer.New(root)
	if err != nil {
		return err
	}
	docs, err := idx.Scan(pattern)
	if err != nil {
		return err
	}
	if len(indexCategories) > 0 {
		docs = indexer.FilterByCategory(docs, indexCategories)
	}

	if indexStats {
		fmt.Print(indexer.ComputeStats(docs).String())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if indexFingerprints {
		fmt.Fprintln(w, "IDX\tCATEGORY\tNAME\tSIZE\tFINGERPRINT")
	} else {
		fmt.Fprintln(w, "IDX\tCATEGORY\tNAME\tSIZE")
	}
	for _, d := range docs {
		if indexFingerprints {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.Index, d.Category, d.Name, humanize.Bytes(uint64(d.Size)), d.Fingerprint)
		} else {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, d.Category, d.Name, humanize.Bytes(uint64(d.Size)))
		}
	}
	return w.Flush()
}
