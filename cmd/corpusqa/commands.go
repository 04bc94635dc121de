package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"corpusqa/internal/config"
	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/orchestrator"
	"corpusqa/internal/prompts"
	"corpusqa/internal/qa"
	"corpusqa/internal/runstore"
)

var (
	askTemplate       string
	askAggTemplate    string
	askParallel       int
	askCategories     []string
	askRunID          string
	askVerbose        bool
	reduceTemplate    string
	cleanupFailedOnly bool
)

func init() {
	askCmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Run a full map-reduce execution for a question",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringVarP(&askTemplate, "template", "t", "baseline", "single-QA template")
	askCmd.Flags().StringVar(&askAggTemplate, "aggregate-template", "consensus", "aggregate template")
	askCmd.Flags().IntVar(&askParallel, "parallel", 0, "worker pool width (0 = config default)")
	askCmd.Flags().StringSliceVar(&askCategories, "category", nil, "restrict to these categories")
	askCmd.Flags().StringVar(&askRunID, "run-id", "", "explicit run id instead of a generated one")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "echo the run log to stderr")
	rootCmd.AddCommand(askCmd)

	reduceCmd := &cobra.Command{
		Use:   "reduce RUN_ID",
		Short: "Re-run only the reduce phase of an existing run",
		Args:  cobra.ExactArgs(1),
		RunE:  runReduce,
	}
	reduceCmd.Flags().StringVar(&reduceTemplate, "aggregate-template", "", "aggregate template (default: the run's)")
	rootCmd.AddCommand(reduceCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		RunE:  runRuns,
	}
	rootCmd.AddCommand(runsCmd)

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Display a run's aggregate result",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup RUN_ID...",
		Short: "Delete run directories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCleanup,
	}
	cleanupCmd.Flags().BoolVar(&cleanupFailedOnly, "failed-only", false, "skip completed runs")
	rootCmd.AddCommand(cleanupCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newBackend(cfg *config.Config) *llm.Client {
	return llm.NewClient(cfg.Backend.Host, cfg.Backend.Model,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
}

func llmOptions(cfg *config.Config) llm.Options {
	return llm.Options{
		Temperature:      cfg.Backend.Temperature,
		TopP:             cfg.Backend.TopP,
		RepeatPenalty:    cfg.Backend.RepeatPenalty,
		FrequencyPenalty: cfg.Backend.FrequencyPenalty,
		NumPredict:       cfg.Backend.NumPredict,
		NumCtx:           cfg.Backend.NumCtx,
	}
}

func retryPolicy(cfg *config.Config) qa.RetryPolicy {
	return qa.RetryPolicy{
		MaxAttempts:     cfg.QA.MaxAttempts,
		MinAnswerLength: cfg.QA.MinAnswerLength,
	}
}

// resolveOptions caps the configured context window at what the model
// actually declares, when the backend is reachable and tells us.
func resolveOptions(ctx context.Context, backend *llm.Client, cfg *config.Config) llm.Options {
	opts := llmOptions(cfg)
	if declared, err := backend.ContextLength(ctx); err == nil && declared > 0 && declared < opts.NumCtx {
		opts.NumCtx = declared
	}
	return opts
}

func newOrchestrator(cfg *config.Config) *orchestrator.Orchestrator {
	backend := newBackend(cfg)
	o := &orchestrator.Orchestrator{
		Backend:   backend,
		Templates: prompts.DefaultLoader("."),
		Store:     runstore.New(config.ExpandPath(cfg.Runs.BaseDir)),
		Options:   resolveOptions(context.Background(), backend, cfg),
		Retry:     retryPolicy(cfg),
	}
	if askVerbose {
		o.Echo = os.Stderr
	}
	return o
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	parallel := askParallel
	if parallel <= 0 {
		parallel = cfg.QA.Parallel
	}

	o := newOrchestrator(cfg)
	out, err := o.Run(cmd.Context(), orchestrator.Request{
		RunID:      askRunID,
		CorpusRoot: config.ExpandPath(cfg.Corpus.Root),
		Pattern:    cfg.Corpus.Pattern,
		Parameters: domain.Parameters{
			Question:          args[0],
			SingleTemplate:    askTemplate,
			AggregateTemplate: askAggTemplate,
			Parallel:          parallel,
			Categories:        askCategories,
		},
	})
	if err != nil {
		return err
	}

	fmt.Println(out.Report)
	fmt.Fprintf(os.Stderr, "run %s completed\n", out.RunID)
	return nil
}

func runReduce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	o := newOrchestrator(cfg)
	out, err := o.ResumeReduce(cmd.Context(), orchestrator.ResumeRequest{
		RunID:             args[0],
		AggregateTemplate: reduceTemplate,
	})
	if err != nil {
		return err
	}

	fmt.Println(out.Report)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := runstore.New(config.ExpandPath(cfg.Runs.BaseDir))
	ids, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tDOCS\tERRORS\tAGG\tQUESTION")
	for _, id := range ids {
		sum, err := store.GetSummary(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unreadable: %v)\t\t\t\t\n", id, err)
			continue
		}
		agg := "-"
		if sum.HasAggregate {
			agg = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			sum.RunID, sum.Status, sum.ResultCount, sum.ErrorCount, agg, truncate(sum.Question, 48))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := runstore.New(config.ExpandPath(cfg.Runs.BaseDir))
	report, err := store.LoadAggregateResult(args[0])
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := runstore.New(config.ExpandPath(cfg.Runs.BaseDir))
	for _, id := range args {
		if cleanupFailedOnly {
			sum, err := store.GetSummary(id)
			if err != nil {
				return err
			}
			if sum.Status == string(domain.StatusCompleted) {
				fmt.Printf("skipping completed run %s\n", id)
				continue
			}
		}
		if err := store.Cleanup(id); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", id)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
