package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootDir    string
	rootCmd    = &cobra.Command{
		Use:   "repo-rlm",
		Short: "Recursive decomposition runs over a repository",
		Long: `repo-rlm analyzes a repository by recursively splitting it into scopes
small enough for a single model call, executing the leaves and folding the
results back up the tree. Runs are persisted under .rlm/ and advance one
step at a time, so they can be cancelled, resumed and inspected at any point.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: .repo-rlm.toml or ~/.config/repo-rlm/config.toml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "repository root holding the state directory")
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
