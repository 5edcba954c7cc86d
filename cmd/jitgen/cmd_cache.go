package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jitgen/internal/cache"
	"jitgen/internal/config"
)

// cacheCmd groups cache inspection commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage cached implementations",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached implementations",
	RunE:  runCacheList,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print a cached implementation, including its rationale trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached implementations",
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openStore() (*cache.Store, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(cfg.CacheDir(workspace), cfg.CacheIndexPath(workspace)), nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFILE\tVERSION\tTESTS\tCHECKSUM\tCREATED")
	for _, e := range entries {
		tests := "-"
		if e.TestsPassed {
			tests = "passed"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.12s\t%s\n",
			e.Name, e.DeclFile, e.Version, tests, e.Checksum,
			e.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != args[0] {
			continue
		}
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}
	return fmt.Errorf("no cached implementation named %q", args[0])
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}
