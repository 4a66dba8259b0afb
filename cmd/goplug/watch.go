package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/goplug/internal/host"
	"github.com/caffeineduck/goplug/plugin"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the module whenever its sources change",
	Long: `Load the entry module and keep it loaded, re-executing it whenever a
.star file in its directory (or on the search path) changes.

With --on-reload the named function is called after every successful reload.
Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("on-reload", "", "Function to call after each successful reload")
	watchCmd.Flags().Duration("debounce", host.DefaultDebounceInterval, "Quiet period before reloading")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	hook, _ := cmd.Flags().GetString("on-reload")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		if plugin.StatusOf(err) != plugin.StatusException {
			return err
		}
		a.logger.Error("module failed to load; waiting for a fix", "error", err)
	}

	w, err := host.NewWatcher(a.runner, host.WatcherConfig{
		Dirs:             a.watchDirs(),
		DebounceInterval: debounce,
		OnReload:         reloadHook(ctx, a, hook),
	}, a.logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// reloadHook calls fn after a successful reload when fn is set.
func reloadHook(ctx context.Context, a *app, fn string) func(error) {
	if fn == "" {
		return nil
	}
	module, function := splitTarget(fn)
	return func(err error) {
		if err != nil || !a.runner.IsCallable(module, function) {
			return
		}
		if _, err := a.runner.Call(ctx, module, function, nil, nil); err != nil {
			a.logger.Error("reload hook failed", "function", fn, "error", err)
		}
	}
}
