// Package main implements the booksage CLI: build knowledge from a books
// directory, then ask questions against it.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/reasoning"
)

var (
	configPath string
	verbose    bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, reasoning.ErrCancelled) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "booksage",
	Short: "Answer questions by reasoning over a library of textbooks",
	Long: `booksage parses textbooks into a section tree, then answers questions by
repeatedly selecting relevant sections, reading them chunk by chunk and
integrating the evidence until the question can be solved.

Examples:
  # Parse ./books into ./knowledge
  booksage build

  # Ask a question
  booksage ask "How does the radius of gyration scale with chain length?"

  # Show the section outline
  booksage outline --max-level 3`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $BOOKSAGE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func loadConfig() (config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
