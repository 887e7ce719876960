// Package app wires the session controller to its presentations: the
// interactive TUI and the headless cobra subcommands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ragchat/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

func Execute() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return newRootCommand(cfg).Execute()
}

func newRootCommand(cfg config.Config) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Chat with your documents through Gemini File Search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isInteractiveTerminal() {
				fmt.Fprintln(cmd.ErrOrStderr(), "ragchat needs an interactive terminal; use a subcommand instead.")
				return cmd.Help()
			}
			rt, err := openRuntime(cmd.Context(), cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			err = runTUI(cmd.Context(), rt)
			printModeFeedback(cmd.OutOrStdout(), "Chat", err)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", cfg.Verbose, "Log debug output (and mirror logs to stderr in headless commands)")

	root.AddCommand(newUploadCommand(&cfg))
	root.AddCommand(newAskCommand(&cfg))
	root.AddCommand(newStoresCommand(&cfg))
	root.AddCommand(newHistoryCommand(&cfg))
	root.AddCommand(newKeyCommand(&cfg))
	root.AddCommand(newSettingsCommand(&cfg))
	root.AddCommand(newVersionCommand())
	return root
}

// ModeFeedback is printed after the TUI exits.
type ModeFeedback struct {
	Message  string
	Recovery string
	IsError  bool
}

// BuildModeFeedback classifies how a mode ended.
func BuildModeFeedback(mode string, err error) ModeFeedback {
	if err == nil {
		return ModeFeedback{
			Message:  fmt.Sprintf("%s closed", mode),
			Recovery: "Run ragchat again to continue; your stores and history are saved.",
		}
	}
	if errors.Is(err, context.Canceled) {
		return ModeFeedback{
			Message:  fmt.Sprintf("%s canceled", mode),
			Recovery: "Run ragchat again to retry.",
		}
	}
	return ModeFeedback{
		Message:  fmt.Sprintf("%s failed: %v", mode, err),
		Recovery: fmt.Sprintf("Check the log in the data dir, fix config/network, then retry. Config: %s", configPathOrUnknown()),
		IsError:  true,
	}
}

func printModeFeedback(w io.Writer, mode string, err error) {
	feedback := BuildModeFeedback(mode, err)
	if feedback.IsError {
		fmt.Fprintln(w, errorColor.Sprint("error: "+feedback.Message))
	} else {
		fmt.Fprintln(w, brandColor.Sprint(feedback.Message))
	}
	fmt.Fprintln(w, mutedColor.Sprint(feedback.Recovery))
}

func configPathOrUnknown() string {
	path, err := config.ConfigPath()
	if err != nil {
		return "unknown"
	}
	return path
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ragchat version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ragchat "+Version)
		},
	}
}
