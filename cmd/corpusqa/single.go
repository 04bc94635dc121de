package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"corpusqa/internal/bench"
	"corpusqa/internal/config"
	"corpusqa/internal/indexer"
	"corpusqa/internal/prompts"
	"corpusqa/internal/qa"
)

var (
	oneTemplate    string
	oneInteractive bool
	oneFormat      string
	oneVerbose     bool
)

func init() {
	oneCmd := &cobra.Command{
		Use:   "ask-one DOCUMENT QUESTION",
		Short: "Ask about a single document, skipping the map-reduce pipeline",
		Long: `ask-one answers a question against one document, selected by relative
path prefix. With -i it keeps a conversation going: follow-up questions carry
the prior exchanges into the prompt.`,
		Args: cobra.ExactArgs(2),
		RunE: runAskOne,
	}
	oneCmd.Flags().StringVarP(&oneTemplate, "template", "t", "baseline", "single-QA template")
	oneCmd.Flags().BoolVarP(&oneInteractive, "interactive", "i", false, "follow-up question loop")
	oneCmd.Flags().StringVar(&oneFormat, "format", "text", "output format: text or json")
	oneCmd.Flags().BoolVarP(&oneVerbose, "verbose", "v", false, "print timing and token metadata")
	rootCmd.AddCommand(oneCmd)
}

func runAskOne(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if oneFormat != "text" && oneFormat != "json" {
		return fmt.Errorf("unknown format %q", oneFormat)
	}

	idx, err := indexer.New(config.ExpandPath(cfg.Corpus.Root))
	if err != nil {
		return err
	}
	docs, err := idx.Scan(cfg.Corpus.Pattern)
	if err != nil {
		return err
	}
	doc, err := bench.ResolveDocument(docs, args[0])
	if err != nil {
		return err
	}

	backend := newBackend(cfg)
	worker := &qa.Worker{
		Backend:   backend,
		Templates: prompts.DefaultLoader("."),
		Retry:     retryPolicy(cfg),
		Options:   resolveOptions(cmd.Context(), backend, cfg),
	}

	var history []qa.Exchange
	question := args[1]
	stdin := bufio.NewScanner(os.Stdin)
	for {
		res, err := worker.Answer(cmd.Context(), doc, question, oneTemplate, history)
		if err != nil {
			return err
		}

		if oneFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			fmt.Println(res.Answer)
			if res.Error {
				fmt.Fprintln(os.Stderr, "warning: answer is degraded (retries exhausted)")
			}
			if oneVerbose {
				m := res.Metadata
				fmt.Fprintf(os.Stderr, "\n[%s] %.1fs (load %.2fs, prompt %.2fs, query %.1fs), tokens %d+%d, context left %d\n",
					m.Model, m.Timing.Total, m.Timing.DocumentLoad, m.Timing.PromptBuild, m.Timing.LLMQuery,
					m.Tokens.Prompt, m.Tokens.Completion, m.Tokens.Remaining)
			}
		}

		if !oneInteractive {
			return nil
		}
		history = append(history, qa.Exchange{Question: question, Answer: res.Answer})

		fmt.Fprintf(os.Stderr, "\nfollow-up (empty to quit): ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		question = strings.TrimSpace(stdin.Text())
		if question == "" || question == "quit" || question == "exit" {
			return nil
		}
	}
}
