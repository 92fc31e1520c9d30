package main

import (
	"fmt"
	"log/slog"
	"time"

	"p2pescrow/config"
	"p2pescrow/consensus/equivalence"
	"p2pescrow/core/events"
	"p2pescrow/integrations/llm"
	"p2pescrow/integrations/web"
	"p2pescrow/integrations/webhooks"
	"p2pescrow/native/arbitration"
	"p2pescrow/native/escrow"
	"p2pescrow/observability"
	"p2pescrow/state/ledger"
	"p2pescrow/storage"
)

// openDatabase returns LevelDB under dataDir, or an in-memory store when
// dataDir is empty.
func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", dataDir, err)
	}
	return db, nil
}

func buildValidators(cfg *config.Config) ([]equivalence.Validator, error) {
	validators := make([]equivalence.Validator, 0, len(cfg.Consensus.Validators))
	for _, v := range cfg.Consensus.Validators {
		m := cfg.ValidatorModel(v)
		client, err := llm.NewClient(llm.FactoryConfig{
			Provider:     m.Provider,
			SystemPrompt: cfg.Arbitration.SystemPrompt,
			Model:        m.Model,
			Temperature:  m.Temperature,
			MaxTokens:    m.MaxTokens,
			APIKey:       m.APIKey(),
			BaseURL:      m.BaseURL,
			Script:       m.Script,
		})
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.ID, err)
		}
		var judge equivalence.Judge = equivalence.StructuralJudge{}
		if v.Judge == config.JudgeModel {
			judge = equivalence.ModelJudge{Model: client}
		}
		validators = append(validators, equivalence.Validator{ID: v.ID, Model: client, Judge: judge})
	}
	return validators, nil
}

// buildArbiter assembles the evidence renderer and the equivalence engine.
func buildArbiter(cfg *config.Config, logger *slog.Logger) (*arbitration.Arbiter, error) {
	validators, err := buildValidators(cfg)
	if err != nil {
		return nil, err
	}
	consensus, err := equivalence.NewEngine(validators,
		equivalence.WithQuorum(cfg.Consensus.Quorum),
		equivalence.WithLogger(logger),
		equivalence.WithObserver(observability.Consensus()),
	)
	if err != nil {
		return nil, err
	}
	fetcher := web.NewFetcher(web.Config{
		Timeout:       time.Duration(cfg.Evidence.TimeoutSeconds) * time.Second,
		MaxBodyBytes:  cfg.Evidence.MaxBodyBytes,
		RatePerSecond: cfg.Evidence.RatePerSecond,
		Burst:         cfg.Evidence.Burst,
		Attempts:      cfg.Evidence.Attempts,
		UserAgent:     cfg.Evidence.UserAgent,
	})
	return arbitration.NewArbiter(arbitration.NewRenderer(fetcher), consensus), nil
}

func newWiredEngine(db storage.Database, arbiter escrow.Arbiter, logger *slog.Logger) (*escrow.Engine, *ledger.Ledger) {
	led := ledger.New(db)
	engine := escrow.NewEngine()
	engine.SetState(led)
	engine.SetArbiter(arbiter)
	engine.SetMetrics(observability.Escrow())
	engine.SetLogger(logger)
	engine.SetEmitter(events.Fanout{observability.Events(), eventLog{logger: logger}})
	return engine, led
}

func buildWebhooks(cfg *config.Config, logger *slog.Logger) (*webhooks.Dispatcher, error) {
	secret, err := cfg.Webhook.Secret()
	if err != nil {
		return nil, err
	}
	return webhooks.NewDispatcher(cfg.Webhook.URL, secret,
		webhooks.WithLogger(logger),
		webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
		webhooks.WithQueueSize(cfg.Webhook.QueueSize),
	)
}
