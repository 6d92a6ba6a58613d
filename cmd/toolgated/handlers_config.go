package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolgated/internal/config"
)

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: ws=%d http=%d grpc=%d auth=%s\n",
		cfg.Server.WSPort, cfg.Server.HTTPPort, cfg.Server.GRPCPort, cfg.Auth.Mode)
	return nil
}

const configWatchDebounce = 250 * time.Millisecond

// runConfigWatch watches configPath's directory (fsnotify does not reliably
// fire on the file itself across editors that write-then-rename) and
// re-validates on every debounced write, print-on-change.
func runConfigWatch(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	if err := runConfigValidate(cmd, configPath); err != nil {
		fmt.Fprintln(out, "(continuing to watch despite the initial failure)")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRevalidate := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(configWatchDebounce, func() {
			_ = runConfigValidate(cmd, configPath)
		})
	}

	fmt.Fprintf(out, "watching %s for changes (ctrl-c to stop)\n", configPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleRevalidate()
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "watch error: %v\n", watchErr)
		}
	}
}
