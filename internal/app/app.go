// Package app wires configuration into the components both binaries share.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/codegen"
	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
	"github.com/dgallion1/booksage/internal/report"
)

// Oracle is the configured provider router plus the clients it owns.
type Oracle struct {
	*oracle.Router
	providers []oracle.Provider
}

// Close releases provider clients that hold resources.
func (o *Oracle) Close() {
	for _, p := range o.providers {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// NewOracle builds a router over every provider whose API key resolved.
func NewOracle(ctx context.Context, cfg config.Config, log *slog.Logger) (*Oracle, error) {
	var bindings []oracle.Binding
	var providers []oracle.Provider
	for _, pc := range cfg.ActiveProviders() {
		p, err := oracle.NewProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, oracle.Binding{Provider: p, Config: pc})
		providers = append(providers, p)
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("%w: no provider has an API key", oracle.ErrNoProvider)
	}

	opts := []oracle.RouterOption{oracle.WithStats(oracle.NewStats(time.Hour))}
	if cfg.Cache.Enabled {
		opts = append(opts, oracle.WithCache(oracle.Tiered{
			oracle.NewMemoryCache(cfg.Cache.Entries, cfg.Cache.TTL),
			oracle.NewFileCache(cfg.Cache.Dir, cfg.Cache.TTL, log),
		}))
	}
	log.Info("oracle ready", "providers", len(bindings), "cache", cfg.Cache.Enabled)
	return &Oracle{Router: oracle.NewRouter(cfg.Router, bindings, log, opts...), providers: providers}, nil
}

// NewBuilder returns the knowledge builder. A nil oracle builds without summaries.
func NewBuilder(cfg config.Config, o oracle.Oracle, log *slog.Logger) *knowledge.Builder {
	maxChars := cfg.Knowledge.MaxCharsPerSummaryCall
	return knowledge.NewBuilder(knowledge.BuildConfig{
		BooksDir:               cfg.Knowledge.BooksDir,
		Dir:                    cfg.Knowledge.Dir,
		SummaryLevels:          cfg.Knowledge.SummaryLevels,
		MaxCharsPerSummaryCall: maxChars,
		Chunk: chunker.Config{
			Size:      maxChars,
			Overlap:   min(cfg.Agent.ChunkOverlapChars, maxChars/10),
			MaxChunks: cfg.Agent.MaxChunksPerNode,
		},
	}, o, log)
}

// Components bundles what answering a question needs.
type Components struct {
	Index    *knowledge.Index
	Engine   *reasoning.Engine
	Sessions *reasoning.SessionStore
	Codegen  *codegen.Generator
	Reports  *report.Writer
	output   config.OutputConfig
}

// NewComponents builds the reasoning engine and its output writers over idx.
func NewComponents(cfg config.Config, idx *knowledge.Index, o oracle.Oracle, log *slog.Logger, opts ...reasoning.Option) Components {
	sessions := reasoning.NewSessionStore(cfg.Runtime.Dir)
	opts = append([]reasoning.Option{reasoning.WithSessionStore(sessions)}, opts...)
	return Components{
		Index:    idx,
		Engine:   reasoning.NewEngine(idx, o, reasoning.NewChunkStore(cfg.Runtime.Dir), cfg.Agent.Reasoning(), log, opts...),
		Sessions: sessions,
		Codegen:  codegen.NewGenerator(o, cfg.Runtime.GeneratedCodeDir, log),
		Reports: report.NewWriter(cfg.Runtime.ReportsDir, report.Options{
			IncludeEvidence: cfg.Output.IncludeEvidence,
			IncludeCode:     cfg.Output.IncludeCode,
		}, log),
		output: cfg.Output,
	}
}

// Worker returns a session worker honoring the output settings.
func (c Components) Worker(log *slog.Logger) *pipeline.Worker {
	var gen *codegen.Generator
	if c.output.GenerateCode {
		gen = c.Codegen
	}
	var reports *report.Writer
	if c.output.WriteReport {
		reports = c.Reports
	}
	return pipeline.NewWorker(c.Engine, gen, reports, log)
}
