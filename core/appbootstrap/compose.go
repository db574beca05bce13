// Package appbootstrap wires the stores, services and background workers
// into a runnable composition.
package appbootstrap

import (
	"log/slog"

	"racecontrol/api"
	"racecontrol/config"
	"racecontrol/core/adjudication"
	"racecontrol/core/sequence"
	"racecontrol/core/storage"
	"racecontrol/core/store"
	"racecontrol/core/workflow"
)

type Runtime struct {
	Server  *api.Server
	Sweeper *workflow.Sweeper
}

func Compose(cfg *config.AppConfig, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := storage.New(cfg.DataDir, cfg.Lock.RetryBase, cfg.Lock.MaxAttempts)
	if err != nil {
		return nil, err
	}
	incidents := store.NewIncidentsStore(st)
	votes := store.NewVotesStore(st)
	workflowStore := store.NewWorkflowStore(st)
	audits := store.NewAuditStore(st)
	counter := sequence.NewCounter(st, cfg.Sequence.InitialNumber)

	svc := adjudication.NewService(incidents, votes, workflowStore, audits, counter, cfg.Windows, cfg.Sanctions, logger)
	sweeper := workflow.NewSweeper(cfg.Sweeper, workflowStore, logger)

	server := api.NewServer(api.ServerDeps{
		Cfg:          cfg,
		Adjudication: svc,
		Incidents:    incidents,
		Votes:        votes,
		Workflow:     workflowStore,
		Counter:      counter,
		Logger:       logger,
	})
	return &Runtime{Server: server, Sweeper: sweeper}, nil
}
