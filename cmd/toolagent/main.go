// Command toolagent runs a function-calling agent as a chat REPL, an HTTP service, an offline
// evaluator or an MCP tool server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/otel"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// klog flags must be registered before cobra parses anything
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	_ = klogFlags.Set("logtostderr", "false")
	_ = klogFlags.Set("log_file", filepath.Join(os.TempDir(), "toolagent.log"))
	defer klog.Flush()

	var opt Options
	opt.InitDefaults()
	if err := opt.LoadConfigurationFile(); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	rootCmd := BuildRootCommand(&opt)
	rootCmd.PersistentFlags().AddGoFlag(klogFlags.Lookup("v"))
	rootCmd.PersistentFlags().AddGoFlag(klogFlags.Lookup("alsologtostderr"))
	return rootCmd.ExecuteContext(ctx)
}

func BuildRootCommand(opt *Options) *cobra.Command {
	var shutdown func(context.Context) error
	rootCmd := &cobra.Command{
		Use:           "toolagent",
		Short:         "A function-calling agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !opt.TraceStdout {
				return nil
			}
			var err error
			shutdown, err = otel.Init(cmd.Context(), otel.Config{ServiceVersion: version, UseStdout: true, Writer: os.Stderr})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(context.WithoutCancel(cmd.Context()))
		},
	}
	opt.bindAgentFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newChatCommand(opt),
		newServeCommand(opt),
		newEvalCommand(opt),
		newMCPCommand(opt),
		newPromptsCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version and exit",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "toolagent %s (commit=%s, date=%s)\n", version, commit, date)
			},
		},
	)
	return rootCmd
}
