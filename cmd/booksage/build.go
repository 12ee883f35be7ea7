package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/booksage/internal/app"
	"github.com/dgallion1/booksage/internal/oracle"
)

var (
	buildForce       bool
	buildNoSummaries bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Parse the books directory into knowledge artifacts",
	Long: `Parses every supported document (.pdf, .docx, .md, .txt) in books_dir into
a section tree, writes per-node text files and summarizes the configured
levels. Existing artifacts are kept unless --force is given.

Without any provider API key the build still runs, without summaries.

Examples:
  booksage build
  booksage build --force --no-summaries`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "Rebuild even if artifacts exist")
	buildCmd.Flags().BoolVar(&buildNoSummaries, "no-summaries", false, "Skip node summaries")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateBuild(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var o oracle.Oracle
	if !buildNoSummaries {
		router, err := app.NewOracle(ctx, cfg, log)
		switch {
		case errors.Is(err, oracle.ErrNoProvider):
			log.Warn("no provider configured, building without summaries")
		case err != nil:
			return err
		default:
			defer router.Close()
			o = router
		}
	}

	k, err := app.NewBuilder(cfg, o, log).Build(ctx, buildForce)
	if err != nil {
		return fmt.Errorf("build knowledge: %w", err)
	}
	nodes := 0
	for _, d := range k.Documents {
		nodes += len(d.Nodes)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d documents, %d nodes in %s\n", len(k.Documents), nodes, cfg.Knowledge.Dir)
	return nil
}
