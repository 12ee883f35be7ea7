package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/reasoning"
)

var outlineMaxLevel int

var outlineCmd = &cobra.Command{
	Use:   "outline",
	Short: "Print the section outline of the built knowledge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		idx, err := knowledge.Load(cfg.Knowledge.Dir)
		if err != nil {
			return err
		}
		level := outlineMaxLevel
		if level <= 0 {
			level = cfg.Agent.OutlineMaxLevel
		}
		fmt.Fprint(cmd.OutOrStdout(), idx.RenderOutline(level))
		return nil
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <session-id>",
	Short: "Print the stored result of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		res, err := reasoning.NewSessionStore(cfg.Runtime.Dir).LoadResult(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	outlineCmd.Flags().IntVar(&outlineMaxLevel, "max-level", 0, "Deepest heading level to show (default agent.outline_max_level)")
	rootCmd.AddCommand(outlineCmd, resultCmd)
}
