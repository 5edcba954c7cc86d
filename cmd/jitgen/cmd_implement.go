package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jitgen/internal/cache"
	"jitgen/internal/config"
	"jitgen/internal/declare"
	"jitgen/internal/engine"
	"jitgen/internal/install"
	"jitgen/internal/llm"
	"jitgen/internal/validate"
)

var (
	implementName        string
	implementInPlace     bool
	implementMaxTries    int
	implementForce       bool
	implementInteractive bool
)

// implementCmd generates implementations for marked declarations in a file
var implementCmd = &cobra.Command{
	Use:   "implement [file]",
	Short: "Generate implementations for //jitgen:implement declarations",
	Long: `Scans a Go source file for declarations carrying the //jitgen:implement
directive with a stub body, generates an implementation for each, and writes
the accepted candidates to the cache.

Declarations may carry //jitgen:test lines alongside the directive; each is
a boolean expression the candidate must satisfy before it is accepted:

  //jitgen:implement
  //jitgen:test len(main.PrimeFactors(100)) == 4

With --in-place the declaring file is rewritten so the stub body is replaced
by the generated implementation (the directives are removed; imports are
merged). With --interactive each retry after a failed attempt asks for
confirmation first.

Examples:
  jitgen implement pkg/math/factors.go
  jitgen implement pkg/math/factors.go --name PrimeFactors --in-place
  jitgen implement pkg/math/factors.go --force --max-tries 8`,
	Args: cobra.ExactArgs(1),
	RunE: runImplement,
}

func init() {
	implementCmd.Flags().StringVar(&implementName, "name", "", "Implement only the named declaration")
	implementCmd.Flags().BoolVar(&implementInPlace, "in-place", false, "Rewrite the source file with the implementation")
	implementCmd.Flags().IntVar(&implementMaxTries, "max-tries", 0, "Retry budget per declaration (default from config)")
	implementCmd.Flags().BoolVar(&implementForce, "force", false, "Bypass the cache and regenerate")
	implementCmd.Flags().BoolVar(&implementInteractive, "interactive", false, "Confirm before each retry after a failed attempt")
}

func runImplement(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	path := args[0]
	decls, err := targetDeclarations(path)
	if err != nil {
		return err
	}
	if len(decls) == 0 {
		fmt.Printf("No pending //jitgen:implement declarations in %s\n", path)
		return nil
	}

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
	maxTries := implementMaxTries
	if maxTries == 0 {
		maxTries = cfg.Generation.MaxTries
	}

	var failed int
	for _, decl := range decls {
		logger.Info("Implementing declaration",
			zap.String("name", decl.Name),
			zap.String("file", decl.File))
		start := time.Now()

		opts := engine.Options{
			MaxTries: maxTries,
			Cases:    validate.CasesFromExprs(decl.Tests),
			Force:    implementForce,
		}
		if implementInteractive {
			opts.Confirm = promptContinue
		}
		outcome, err := coder.Implement(ctx, decl, opts)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", decl.Name, err)
			continue
		}

		source := "generated"
		if outcome.FromCache {
			source = "cached"
		}
		fmt.Printf("✓ %s (%s, %.1fs) -> %s\n",
			decl.Name, source, time.Since(start).Seconds(), store.EntryPath(decl))

		if implementInPlace {
			if err := install.Rewrite(decl, outcome.Entry); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: rewrite: %v\n", decl.Name, err)
				continue
			}
			fmt.Printf("  rewrote %s\n", decl.File)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d declaration(s) failed", failed, len(decls))
	}
	return nil
}

// promptContinue asks on the terminal before another attempt is spent.
func promptContinue(try int, failureDetail string) bool {
	if failureDetail != "" {
		fmt.Fprint(os.Stderr, failureDetail)
	}
	fmt.Fprintf(os.Stderr, "Continue to attempt %d? (yes/no): ", try)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "yes", "y", "continue":
		return true
	}
	return false
}

func targetDeclarations(path string) ([]declare.Declaration, error) {
	if implementName != "" {
		decl, err := declare.FindByName(path, implementName)
		if err != nil {
			return nil, err
		}
		return []declare.Declaration{decl}, nil
	}
	return declare.Extract(path)
}
