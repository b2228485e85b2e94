package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/datalookup/internal/agent"
	"github.com/nugget/datalookup/internal/audit"
	"github.com/nugget/datalookup/internal/catalog"
	"github.com/nugget/datalookup/internal/config"
	"github.com/nugget/datalookup/internal/database"
	"github.com/nugget/datalookup/internal/llm"
	"github.com/nugget/datalookup/internal/prompts"
	"github.com/nugget/datalookup/internal/sqlguard"
	"github.com/nugget/datalookup/internal/suggest"
	"github.com/nugget/datalookup/internal/tools"
)

// app holds everything a command needs to answer questions.
type app struct {
	cfg    *config.Config
	db     database.Executor
	client llm.Client
	audit  *audit.Store
	agent  *agent.Agent
	logger *slog.Logger
}

// newApp connects to the database and the model backend and builds one
// catalog, guard and tool registry per role. The caller must Close it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.URL, database.Options{
		Schema:       cfg.Database.Schema,
		MaxConns:     cfg.Database.MaxConns,
		QueryTimeout: cfg.Database.QueryTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	var rec audit.Recorder
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.audit = store
		rec = store
		logger.Info("audit log enabled", "path", cfg.Audit.Path)
	}

	// Every role's allowlist is introspected once, then each role gets
	// its own restricted view.
	var union []string
	for _, name := range cfg.RoleNames() {
		union = append(union, cfg.Roles[name].Tables...)
	}
	full, err := catalog.Load(ctx, db, union, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	roles := make([]agent.Role, 0, len(cfg.Roles))
	for _, name := range cfg.RoleNames() {
		rc := cfg.Roles[name]
		cat, err := full.Restrict(rc.Tables)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
		guard := sqlguard.New(cat, sqlguard.Options{
			Schema:       db.Schema(),
			DefaultLimit: cfg.Agent.DefaultLimit,
			Denials:      cfg.Denials[name],
		})
		registry := tools.NewRegistry(cat, guard, db, rec, tools.Config{
			Role:       name,
			MaxRows:    cfg.Agent.MaxObservationRows,
			MaxBytes:   cfg.Agent.MaxObservationBytes,
			SampleRows: cfg.Agent.SampleRows,
		}, logger)
		roles = append(roles, agent.Role{
			Name:     name,
			Registry: registry,
			Prompt: prompts.SystemParams{
				Persona:      strings.TrimSpace(rc.Persona),
				SchemaGuide:  strings.TrimSpace(rc.SchemaGuide),
				Instructions: rc.Instructions,
			},
		})
		logger.Debug("role ready", "role", name, "tables", len(cat.Tables()))
	}

	a.client = newLLMClient(cfg.Model, logger)

	ccfg := llm.CompleterConfig{
		Model: cfg.Model.Name,
		Options: llm.Options{
			Temperature: cfg.Model.Temperature,
			NumCtx:      cfg.Model.NumCtx,
			NumPredict:  cfg.Model.NumPredict,
		},
		KeepAlive:         cfg.Model.KeepAlive,
		SuppressReasoning: cfg.Model.SuppressReasoning,
		Timeout:           cfg.Model.Timeout,
	}
	if cfg.Model.NativeTools && len(roles) > 0 {
		// Tool definitions are identical across roles; only the
		// registries behind them differ.
		ccfg.Tools = roles[0].Registry.List()
	}
	completer := llm.NewCompleter(a.client, ccfg, logger)

	a.agent, err = agent.New(completer, roles, suggest.New(suggestConfig(cfg.Suggestions)), agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		NativeTools:   cfg.Model.NativeTools,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("agent ready",
		"model", cfg.Model.Name,
		"provider", cfg.Model.ResolvedProvider(),
		"dialect", db.Dialect(),
		"roles", cfg.RoleNames(),
	)
	return a, nil
}

// Close releases the database and audit log.
func (a *app) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	return errors.Join(errs...)
}

// newLLMClient picks the backend: Groq's OpenAI-compatible API when the
// provider resolves to groq, Ollama otherwise.
func newLLMClient(mc config.ModelConfig, logger *slog.Logger) llm.Client {
	switch mc.ResolvedProvider() {
	case "groq", "openai":
		return llm.NewOpenAIClient(mc.ResolvedProvider(), mc.BaseURL, mc.APIKey, logger)
	default:
		return llm.NewOllamaClient(llm.ResolveOllamaBaseURL(mc.BaseURL, mc.URL), logger)
	}
}

// suggestConfig layers configured suggestion sections over the
// built-in ones. A non-empty section replaces its built-in counterpart.
func suggestConfig(sc config.SuggestionsConfig) suggest.Config {
	out := suggest.Defaults()
	if len(sc.FollowUps) > 0 {
		out.FollowUps = sc.FollowUps
	}
	if len(sc.Starters) > 0 {
		out.Starters = upperKeys(sc.Starters)
	}
	if len(sc.Ambiguous) > 0 {
		out.Ambiguous = make(map[string]suggest.Ambiguity, len(sc.Ambiguous))
		for term, amb := range sc.Ambiguous {
			out.Ambiguous[strings.ToLower(strings.TrimSpace(term))] = suggest.Ambiguity{
				Clarification: amb.Clarification,
				Options:       amb.Options,
			}
		}
	}
	if len(sc.HiddenTopics) > 0 {
		out.HiddenTopics = upperKeys(sc.HiddenTopics)
	}
	if sc.Max > 0 {
		out.Max = sc.Max
	}
	return out
}

func upperKeys(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}
