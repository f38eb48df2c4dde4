package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/eval"
)

func newPromptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect the shared prompt templates of an eval directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list DIR",
		Short: "Load and lint every template, then list names and versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := eval.LoadTemplates(os.DirFS(args[0]), eval.TemplatesDir)
			if err != nil {
				return err
			}
			for _, name := range st.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, len(st.List(name)))
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "diff DIR NAME V1 V2",
		Short: "Show the line diff between two versions of a template",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v1, err1 := strconv.Atoi(args[2])
			v2, err2 := strconv.Atoi(args[3])
			if err1 != nil || err2 != nil {
				return errmodel.Validation("bad_version", "versions must be integers", map[string]any{"v1": args[2], "v2": args[3]})
			}
			st, err := eval.LoadTemplates(os.DirFS(args[0]), eval.TemplatesDir)
			if err != nil {
				return err
			}
			d, ok := st.Diff(args[1], v1, v2)
			if !ok {
				return errmodel.Validation("not_found", "template version not found", map[string]any{"template": args[1], "v1": v1, "v2": v2})
			}
			fmt.Fprint(cmd.OutOrStdout(), d)
			return nil
		},
	})
	return cmd
}
