package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/eval"
)

func newEvalCommand(opt *Options) *cobra.Command {
	var (
		parallel int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "eval DIR",
		Short: "Run the agent against every fixture in DIR and report the score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// fixtures never touch the session store
			o := *opt
			o.DatabaseURL = ""
			b, err := newBackend(ctx, o)
			if err != nil {
				return err
			}
			defer b.close()
			report, err := eval.Run(ctx, os.DirFS(args[0]), ".", func(ctx context.Context, fx eval.Fixture) (eval.Chatter, error) {
				return b.newAgent(ctx, fx.Name)
			}, eval.Options{Parallelism: parallel})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range report.Details {
				fmt.Fprintln(out, d)
			}
			fmt.Fprintf(out, "score %.2f (%d/%d)\n", report.Score, report.Passed, report.Total)
			if report.Score < minScore {
				return errmodel.Validation("score_below_minimum", "evaluation score is below the minimum", map[string]any{"score": report.Score, "min_score": minScore})
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 1, "fixtures evaluated concurrently")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "fail when the score is below this value")
	return cmd
}
