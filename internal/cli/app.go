package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/config"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/internal/workflow"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/llm"
)

var errNoAPIKey = fmt.Errorf("an Anthropic API key is required: set llm.api_key or %s", config.EnvAnthropicAPIKey)

// app holds the wired process dependencies.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	registry *prometheus.Registry

	repo     *repository.SQLiteRepository
	executor *workflow.Executor

	closers []func() error
}

func openApp(ctx context.Context, settings config.Settings, logger *slog.Logger) (_ *app, err error) {
	a := &app{settings: settings, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.repo, err = repository.OpenSQLite(settings.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	a.closers = append(a.closers, a.repo.Close)

	store, err := checkpoint.NewSQLiteStore(settings.Storage.CheckpointPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	sql, err := a.sqlExecutor(ctx)
	if err != nil {
		return nil, err
	}

	a.executor, err = workflow.NewExecutor(workflow.Dependencies{
		Repo:       a.repo,
		Agents:     a.agents(),
		SQL:        sql,
		MaxRetries: settings.Workflow.MaxRetries,
	},
		workflow.WithCheckpointStore(store),
		workflow.WithLogger(logger),
		workflow.WithRecursionLimit(settings.Workflow.RecursionLimit),
		workflow.WithMetrics(workflow.NewMetrics(a.registry)),
		workflow.WithTelemetry(settings.Telemetry),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) agents() agent.Agents {
	opts := []llm.AnthropicOption{
		llm.WithModel(a.settings.LLM.Model),
		llm.WithMaxTokens(a.settings.LLM.MaxTokens),
		llm.WithLogger(a.logger),
	}
	if a.settings.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(a.settings.LLM.BaseURL))
	}
	client := llm.NewAnthropicClient(a.settings.LLM.APIKey, opts...)

	agents := agent.NewLLMAgent(client,
		agent.WithModel(a.settings.LLM.Model),
		agent.WithLogger(a.logger)).Agents()
	if !a.settings.Workflow.WebSearch {
		agents.Researcher = nil
	}
	return agents
}

func (a *app) sqlExecutor(ctx context.Context) (sqlexec.Executor, error) {
	if a.settings.Postgres.DSN == "" {
		a.logger.Warn("no postgres.dsn configured, generated SQL will not be executed")
		return sqlexec.DryRun(), nil
	}
	pg, err := sqlexec.NewPostgresExecutor(ctx, a.settings.Postgres.DSN,
		sqlexec.WithStatementTimeout(a.settings.Postgres.StatementTimeout),
		sqlexec.WithExecutorLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return pg, nil
}

// requireLLM fails commands that call the model without a key.
func (a *app) requireLLM() error {
	if a.settings.LLM.APIKey == "" {
		return errNoAPIKey
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
