package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/session"
	"ragchat/internal/settings"
	"ragchat/internal/ui"
)

var (
	brandColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed)
	mutedColor = color.New(color.FgHiBlack)
	userColor  = color.New(color.FgYellow, color.Bold)
)

func newUploadCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Create a document store from local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := documentsFromPaths(args)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()

			bar := newUploadBar(cmd.ErrOrStderr(), len(docs)+2)
			rt.Controller.SetObserver(func(s session.Snapshot) {
				if s.Progress != nil {
					renderProgress(bar, *s.Progress)
				}
			})

			if err := rt.Controller.SelectFiles(docs); err != nil {
				return err
			}
			if err := rt.Controller.StartUpload(cmd.Context()); err != nil {
				_ = bar.Exit()
				fmt.Fprintln(cmd.ErrOrStderr())
				return sessionError(rt.Controller.Snapshot(), err)
			}
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())

			snap := rt.Controller.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", okColor.Sprint("Created"), brandColor.Sprint(snap.DocumentName))
			fmt.Fprintln(out, mutedColor.Sprint(snap.ActiveStore))
			if len(snap.ExampleQuestions) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Try asking:")
				for _, q := range snap.ExampleQuestions {
					fmt.Fprintln(out, "  - "+q)
				}
			}
			return nil
		},
	}
}

func newAskCommand(cfg *config.Config) *cobra.Command {
	var storeRef string
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask one grounded question against a store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()

			target, err := resolveStore(rt.Controller.Snapshot().Stores, storeRef)
			if err != nil {
				return err
			}
			if err := rt.Controller.SelectStore(cmd.Context(), target.Name); err != nil {
				return sessionError(rt.Controller.Snapshot(), err)
			}

			question := strings.Join(args, " ")
			stop := startSpinner(cmd.ErrOrStderr(), "Searching "+target.DisplayName)
			sendErr := rt.Controller.SendMessage(cmd.Context(), question)
			stop()

			snap := rt.Controller.Snapshot()
			if len(snap.History) > 0 {
				printMessage(cmd.OutOrStdout(), snap.History[len(snap.History)-1])
			}
			return sendErr
		},
	}
	cmd.Flags().StringVar(&storeRef, "store", "", "Store name, display name, or list index (default: most recent)")
	return cmd
}

func newStoresCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "stores", Short: "List or delete saved document stores"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved stores, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			stores := rt.Controller.Snapshot().Stores
			if len(stores) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedColor.Sprint("No stores yet. Create one with: ragchat upload FILE..."))
				return nil
			}
			for i, s := range stores {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d) %s  %s\n", i+1, brandColor.Sprint(s.DisplayName), mutedColor.Sprint(s.Name))
			}
			return nil
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete STORE",
		Short: "Delete a store and its chat history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			target, err := resolveStore(rt.Controller.Snapshot().Stores, args[0])
			if err != nil {
				return err
			}
			if err := rt.Controller.DeleteStore(cmd.Context(), target.Name, yes); err != nil {
				if errors.Is(err, model.ErrConfirmationRequired) {
					return fmt.Errorf("refusing to delete %q without --yes", target.DisplayName)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("Deleted"), target.DisplayName)
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")

	cmd.AddCommand(list, del)
	return cmd
}

func newHistoryCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history STORE",
		Short: "Print the saved chat history of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			target, err := resolveStore(rt.Controller.Snapshot().Stores, args[0])
			if err != nil {
				return err
			}
			history, err := rt.Store.LoadHistory(cmd.Context(), target.Name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}
			if len(history) == 0 {
				fmt.Fprintln(out, mutedColor.Sprint("No messages yet."))
				return nil
			}
			for _, msg := range history {
				printMessage(out, msg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print history as JSON")
	return cmd
}

func newKeyCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage the host-selected API key"}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether an API key is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			printKeyStatus(cmd.OutOrStdout(), rt.Controller.Snapshot())
			return nil
		},
	}

	var value string
	sel := &cobra.Command{
		Use:   "select",
		Short: "Select a key by running $RAGCHAT_KEY_HELPER, or store one given with --value",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			if cmd.Flags().Changed("value") {
				if err := rt.Host.Select(value); err != nil {
					return err
				}
				rt.Controller.RefreshKeyReadiness(cmd.Context())
			} else if err := rt.Controller.OpenSelectKey(cmd.Context()); err != nil {
				return err
			}
			printKeyStatus(cmd.OutOrStdout(), rt.Controller.Snapshot())
			return nil
		},
	}
	sel.Flags().StringVar(&value, "value", "", "Store this key as the host-selected key instead of running the helper")

	clearKey := &cobra.Command{
		Use:   "clear",
		Short: "Forget the host-selected key",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{console: cfg.Verbose})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			if err := rt.Host.ClearState(); err != nil {
				return err
			}
			rt.Controller.RefreshKeyReadiness(cmd.Context())
			printKeyStatus(cmd.OutOrStdout(), rt.Controller.Snapshot())
			return nil
		},
	}

	cmd.AddCommand(status, sel, clearKey)
	return cmd
}

func newSettingsCommand(cfg *config.Config) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Edit API key, model and base URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if show || !isInteractiveTerminal() {
				printEffectiveFields(cmd.OutOrStdout(), *cfg)
				return nil
			}
			rt, err := openRuntime(cmd.Context(), *cfg, runtimeOptions{})
			if err != nil {
				return err
			}
			defer func() {
				_ = rt.Close()
			}()
			err = settings.Run(*cfg, rt.Controller.SaveSettings)
			if refreshed, loadErr := config.Load(); loadErr == nil {
				*cfg = refreshed
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print effective settings and their sources")

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting (model, base_url, verbose, data_dir, " + config.APIKeyEnv + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			envVar := config.EnvVarForField(key)
			if envVar == "" {
				return fmt.Errorf("unknown setting %q", key)
			}
			if err := config.ValidateField(key, value); err != nil {
				return err
			}
			if err := setField(key, value); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", okColor.Sprint("Saved"), key)
			if v, ok := os.LookupEnv(envVar); ok && envVar != key && strings.TrimSpace(v) != "" {
				fmt.Fprintln(w, mutedColor.Sprintf("%s is set in the environment and takes precedence over this value", envVar))
			}
			if refreshed, err := config.Load(); err == nil {
				*cfg = refreshed
			}
			return nil
		},
	}
	cmd.AddCommand(set)
	return cmd
}

// setField persists a single field. The settings triple is saved wholesale
// through the repository; verbose and data_dir only touch config.toml.
// Environment overrides are never written back.
func setField(key, value string) error {
	next, err := config.LoadFile()
	if err != nil {
		return err
	}
	next.APIKey = strings.TrimSpace(os.Getenv(config.APIKeyEnv))
	config.ApplyField(&next, key, value)
	switch key {
	case "model", "base_url", config.APIKeyEnv:
		return config.NewRepository(nil).Save(next.Settings())
	}
	return config.Save(next)
}

func printEffectiveFields(w io.Writer, cfg config.Config) {
	for _, f := range config.EffectiveFields(cfg) {
		value := f.Value
		switch {
		case strings.TrimSpace(value) == "":
			value = "(not set)"
		case f.Sensitive:
			value = "****"
		}
		fmt.Fprintf(w, "%-16s %-44s %s\n", f.Key, value, mutedColor.Sprint("("+string(f.Source)+")"))
	}
}

func printKeyStatus(w io.Writer, snap session.Snapshot) {
	state := errorColor.Sprint("not ready")
	if snap.KeyReady {
		state = okColor.Sprint("ready")
	}
	fmt.Fprintf(w, "API key: %s\n", state)
	fmt.Fprintf(w, "  host-selected key: %t\n", snap.HostKeySelected)
	fmt.Fprintf(w, "  settings key:      %t\n", strings.TrimSpace(snap.Settings.APIKey) != "")
}

func printMessage(w io.Writer, msg model.ChatMessage) {
	if msg.Role == model.RoleUser {
		fmt.Fprintln(w, userColor.Sprint("you> ")+msg.Text())
		return
	}
	fmt.Fprintln(w, msg.Text())
	for _, line := range ui.Citations(msg.GroundingChunks, 100) {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w)
}

// sessionError prefers the user-facing message the controller recorded.
func sessionError(snap session.Snapshot, err error) error {
	switch {
	case snap.APIKeyError != "":
		return fmt.Errorf("%s (%w)", snap.APIKeyError, err)
	case snap.ErrorMessage != "":
		return errors.New(snap.ErrorMessage)
	default:
		return err
	}
}

// documentsFromPaths stats every path; directories and missing files fail.
func documentsFromPaths(paths []string) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		docs = append(docs, model.Document{Name: filepath.Base(abs), Path: abs, Size: info.Size()})
	}
	if len(docs) == 0 {
		return nil, model.ErrNoFiles
	}
	return docs, nil
}

// resolveStore finds a store by name, display name, or 1-based index. An
// empty ref selects the most recent store.
func resolveStore(stores []model.RagStore, ref string) (model.RagStore, error) {
	ref = strings.TrimSpace(ref)
	if len(stores) == 0 {
		return model.RagStore{}, fmt.Errorf("%w: no stores yet", model.ErrStoreNotFound)
	}
	if ref == "" {
		return stores[0], nil
	}
	for _, s := range stores {
		if s.Name == ref || s.DisplayName == ref {
			return s, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(stores) {
		return stores[n-1], nil
	}
	return model.RagStore{}, fmt.Errorf("%w: %q", model.ErrStoreNotFound, ref)
}

func newUploadBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(session.MsgInitializing)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func renderProgress(bar *progressbar.ProgressBar, p model.UploadProgress) {
	desc := p.Message
	if p.FileName != "" {
		desc += " " + p.FileName
	}
	bar.Describe(color.CyanString(desc))
	_ = bar.Set(p.Current)
}

// startSpinner animates an indeterminate bar until the returned stop func runs.
func startSpinner(w io.Writer, description string) func() {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return func() {
		cancel()
		<-done
		_ = bar.Clear()
	}
}
