package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wilhg/toolagent/pkg/fnagent"
)

func newChatCommand(opt *Options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat [query]",
		Short: "Chat with the agent; a query argument runs a single turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := newBackend(ctx, *opt)
			if err != nil {
				return err
			}
			defer b.close()
			a, err := b.newAgent(ctx, sessionID)
			if err != nil {
				return err
			}
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			return runChat(ctx, a, query, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session the transcript is kept under when --database-url is set")
	return cmd
}

// runChat answers query and returns, or reads turns from in until EOF or "exit" when query is
// empty. Failed turns are reported and the session continues.
func runChat(ctx context.Context, a *fnagent.Agent, query string, in io.Reader, out io.Writer) error {
	if query != "" {
		return turn(ctx, a, query, out)
	}
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, ">>> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			if err := a.Reset(ctx); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			continue
		case "/history":
			h, err := a.ChatHistory(ctx)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			_ = enc.Encode(h)
			continue
		}
		if err := turn(ctx, a, line, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func turn(ctx context.Context, a *fnagent.Agent, message string, out io.Writer) error {
	s, err := a.StreamChat(ctx, message, nil)
	if err != nil {
		return err
	}
	for d := range s.Deltas() {
		fmt.Fprint(out, d)
	}
	fmt.Fprintln(out)
	_, err = s.Wait(ctx)
	return err
}
