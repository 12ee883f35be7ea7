package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/booksage/internal/api"
	"github.com/dgallion1/booksage/internal/app"
	"github.com/dgallion1/booksage/internal/config"
	"github.com/dgallion1/booksage/internal/knowledge"
	"github.com/dgallion1/booksage/internal/pipeline"
	"github.com/dgallion1/booksage/internal/reasoning"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("")
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	o, err := app.NewOracle(ctx, cfg, log)
	if err != nil {
		log.Error("init oracle", "error", err)
		os.Exit(1)
	}
	idx, err := knowledge.Load(cfg.Knowledge.Dir)
	if err != nil {
		log.Error("load knowledge (run booksage build first)", "error", err, "dir", cfg.Knowledge.Dir)
		os.Exit(1)
	}
	log.Info("knowledge loaded", "dir", idx.Dir(), "documents", len(idx.Documents()), "nodes", idx.Len())

	// Initialize pipeline. The job store follows each session and answers
	// its confirmation gate from the request.
	jobs := pipeline.NewJobStore(cfg.JobTTL)
	comps := app.NewComponents(cfg, idx, o, log,
		reasoning.WithObserver(jobs),
		reasoning.WithConfirmer(jobs),
	)
	orch := pipeline.NewOrchestrator(cfg, jobs, comps.Worker(log), log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Index:        idx,
		Sessions:     comps.Sessions,
		Reports:      comps.Reports,
		Stats:        o.Stats(),
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		o.Close()
	}()

	log.Info("starting booksage", "port", cfg.Port, "nodes", idx.Len())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
