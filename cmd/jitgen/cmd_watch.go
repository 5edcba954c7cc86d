package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jitgen/internal/cache"
	"jitgen/internal/config"
	"jitgen/internal/declare"
	"jitgen/internal/engine"
	"jitgen/internal/install"
	"jitgen/internal/llm"
	"jitgen/internal/logging"
	"jitgen/internal/validate"
)

var watchInPlace bool

// watchCmd re-implements declarations as their files change
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and re-implement changed declarations",
	Long: `Watches Go source files under a directory. When a file containing
//jitgen:implement declarations is written, each pending declaration is
re-resolved: unchanged declarations hit the cache, changed ones regenerate.

Events are debounced per file so editor save bursts trigger one pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInPlace, "in-place", false, "Rewrite source files with implementations")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	client, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	store := cache.NewStore(cfg.CacheDir(workspace), cfg.CacheIndexPath(workspace))
	defer store.Close()
	coder := engine.New(client, store)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	root := args[0]
	if err := addWatchDirs(watcher, root); err != nil {
		return err
	}
	logger.Info("Watching for declaration changes", zap.String("dir", root))

	// Debounce per file: a save burst collapses to one pass.
	pending := make(map[string]*time.Timer)
	passCh := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchDirs(watcher, event.Name)
					continue
				}
			}
			if !watchableFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := event.Name
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case passCh <- name:
				case <-ctx.Done():
				}
			})
		case name := <-passCh:
			delete(pending, name)
			implementFile(ctx, coder, store, cfg.Generation.MaxTries, name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WatchWarn("watcher error: %v", err)
		}
	}
}

func implementFile(ctx context.Context, coder *engine.Coder, store *cache.Store, maxTries int, path string) {
	decls, err := declare.Extract(path)
	if err != nil {
		logging.WatchWarn("%s: %v", path, err)
		return
	}
	for _, decl := range decls {
		outcome, err := coder.Implement(ctx, decl, engine.Options{
			MaxTries: maxTries,
			Cases:    validate.CasesFromExprs(decl.Tests),
		})
		if err != nil {
			logger.Warn("Implementation failed",
				zap.String("name", decl.Name), zap.Error(err))
			continue
		}
		logger.Info("Implementation ready",
			zap.String("name", decl.Name),
			zap.Bool("cached", outcome.FromCache),
			zap.String("path", store.EntryPath(decl)))
		if watchInPlace {
			if err := install.Rewrite(decl, outcome.Entry); err != nil {
				logger.Warn("Rewrite failed",
					zap.String("file", decl.File), zap.Error(err))
			}
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if base != "." && (strings.HasPrefix(base, ".") || base == "vendor" || base == "testdata") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func watchableFile(path string) bool {
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}
