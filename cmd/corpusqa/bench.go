package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"corpusqa/internal/batch"
	"corpusqa/internal/bench"
	"corpusqa/internal/config"
	"corpusqa/internal/indexer"
	"corpusqa/internal/orchestrator"
	"corpusqa/internal/prompts"
)

var (
	benchTemplate string
	benchDryRun   bool
	benchDBPath   string
	benchOutput   string
	benchSessions bool
	scheduleFile  string
)

func init() {
	benchCmd := &cobra.Command{
		Use:   "bench QUESTIONS.yaml",
		Short: "Run a benchmark question set and record the session",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBench,
	}
	benchCmd.Flags().StringVarP(&benchTemplate, "template", "t", "", "override the set's template")
	benchCmd.Flags().BoolVar(&benchDryRun, "dry-run", false, "resolve targets without calling the backend")
	benchCmd.Flags().StringVar(&benchDBPath, "db", "bench.db", "benchmark results database")
	benchCmd.Flags().StringVarP(&benchOutput, "output", "o", "", "write the markdown report here instead of stdout")
	benchCmd.Flags().BoolVar(&benchSessions, "sessions", false, "list recorded sessions instead of running")
	rootCmd.AddCommand(benchCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run recurring questions from a cron schedule",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleFile, "schedule-file", "schedule.toml", "schedule definition")
	rootCmd.AddCommand(scheduleCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if benchSessions {
		return listBenchSessions()
	}
	if len(args) == 0 {
		return fmt.Errorf("question set file required (or --sessions)")
	}

	set, err := bench.LoadQuestionSet(args[0])
	if err != nil {
		return err
	}

	idx, err := indexer.New(config.ExpandPath(cfg.Corpus.Root))
	if err != nil {
		return err
	}
	docs, err := idx.Scan(cfg.Corpus.Pattern)
	if err != nil {
		return err
	}

	runner := &bench.Runner{
		Templates: prompts.DefaultLoader("."),
		Retry:     retryPolicy(cfg),
		Parallel:  cfg.QA.Parallel,
	}
	backend := newBackend(cfg)
	runner.Backend = backend
	runner.Options = resolveOptions(cmd.Context(), backend, cfg)

	if !benchDryRun {
		store, err := bench.OpenStore(config.ExpandPath(benchDBPath))
		if err != nil {
			return err
		}
		defer store.Close()
		runner.Store = store
	}

	report, err := runner.Run(cmd.Context(), set, docs, bench.RunOptions{
		Template: benchTemplate,
		DryRun:   benchDryRun,
	})
	if err != nil {
		return err
	}

	md := bench.Markdown(report)
	if benchOutput == "" {
		fmt.Print(md)
		return nil
	}
	if err := os.WriteFile(benchOutput, []byte(md), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s written to %s\n", report.SessionID, benchOutput)
	return nil
}

func listBenchSessions() error {
	store, err := bench.OpenStore(config.ExpandPath(benchDBPath))
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSET\tTEMPLATE\tMODEL\tSTARTED\tTOTAL\tFAILED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.QuestionSet, s.Template, s.Model, s.StartedAt.Format("2006-01-02 15:04"), s.Total, s.Failed)
	}
	return w.Flush()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	schedCfg, err := batch.LoadScheduleConfig(config.ExpandPath(scheduleFile))
	if err != nil {
		return err
	}
	if len(schedCfg.Schedules) == 0 {
		return fmt.Errorf("no schedules defined in %s", scheduleFile)
	}

	sched, err := batch.NewScheduler(schedCfg.Schedules)
	if err != nil {
		return err
	}

	o := newOrchestrator(cfg)
	for _, name := range sched.ListEntries() {
		fmt.Printf("%s: next run %s\n", name, sched.NextRun(name).Format("2006-01-02 15:04"))
	}

	go sched.Start(func(e batch.ScheduleEntry) error {
		params := e.Parameters()
		if params.Parallel <= 0 {
			params.Parallel = cfg.QA.Parallel
		}
		out, err := o.Run(cmd.Context(), orchestrator.Request{
			CorpusRoot: config.ExpandPath(cfg.Corpus.Root),
			Pattern:    cfg.Corpus.Pattern,
			Parameters: params,
		})
		if err != nil {
			return err
		}
		fmt.Printf("schedule %s: run %s completed\n", e.Name, out.RunID)
		return nil
	})
	defer sched.Stop()

	fmt.Fprintln(os.Stderr, "scheduler running, Ctrl-C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
