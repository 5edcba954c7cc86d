package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jitgen/internal/config"
)

// initCmd initializes jitgen in the current workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize jitgen in the current workspace",
	Long: `Creates the .jitgen/ directory with a default config.yaml.

Edit .jitgen/config.yaml to pick a provider and model, or set the
JITGEN_PROVIDER / JITGEN_MODEL / JITGEN_API_KEY environment variables.
API keys are also read from OPENAI_API_KEY and GEMINI_API_KEY.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Already initialized: %s\n", path)
		return nil
	}

	if err := config.Save(workspace, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Initialized workspace: %s\n", path)
	return nil
}
