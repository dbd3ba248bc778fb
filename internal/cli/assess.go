package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/risk"
)

func newAssessCmd() *cobra.Command {
	var (
		answersPath string
		text        string
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score a questionnaire offline",
		Long:  "Scores an answers file (question id to option label or index) against the configured questionnaire. Nothing is stored or escalated.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(); err != nil {
				return err
			}
			if answersPath == "" {
				return fmt.Errorf("--answers is required")
			}
			answers, err := readAnswers(answersPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			scorer, err := app.NewScorer(cfg)
			if err != nil {
				return err
			}
			a, err := scorer.Evaluate(risk.Input{Answers: answers, Text: text})
			if err != nil {
				return err
			}
			return printAssessment(cmd, a)
		},
	}
	cmd.Flags().StringVar(&answersPath, "answers", "", "YAML file mapping question id to answer")
	cmd.Flags().StringVar(&text, "text", "", "Optional free text to scan for crisis signals")
	return cmd
}

func readAnswers(path string) (risk.Answers, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var answers risk.Answers
	if err := yaml.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	return answers, nil
}

func printAssessment(cmd *cobra.Command, a risk.Assessment) error {
	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		return writeJSON(out, a)
	}
	fmt.Fprintf(out, "score: %.1f\nband: %s\nconfidence: %.2f\n", a.Score, a.Band, a.Confidence)
	if a.TextSignal {
		fmt.Fprintf(out, "text signals: %v\n", a.MatchedSignals)
	}
	ids := make([]string, 0, len(a.Contributions))
	for id := range a.Contributions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %-20s %6.1f\n", id, a.Contributions[id])
	}
	return nil
}
