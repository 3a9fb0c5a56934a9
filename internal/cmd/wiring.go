package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/techs-targe/PromptRig-sub001/internal/agent"
	"github.com/techs-targe/PromptRig-sub001/internal/config"
	"github.com/techs-targe/PromptRig-sub001/internal/intent"
	"github.com/techs-targe/PromptRig-sub001/internal/llm"
	"github.com/techs-targe/PromptRig-sub001/internal/policy"
	"github.com/techs-targe/PromptRig-sub001/internal/security"
	"github.com/techs-targe/PromptRig-sub001/internal/session"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
	"github.com/techs-targe/PromptRig-sub001/internal/task"
	"github.com/techs-targe/PromptRig-sub001/internal/tools"
)

// runtime is the wired object graph shared by serve and run.
type runtime struct {
	cfg      *config.Config
	settings *store.Settings
	st       *store.Store
	sessions *session.Manager
	engine   *agent.Engine
	runner   *task.Runner
	registry *tools.Registry // nil when using a remote tool server
}

// buildRuntime wires the full stack: store, policy engine, providers,
// tool backend, agent engine, and task runner.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	provider, err := providerFor(cfg.DefaultModel)
	if err != nil {
		return nil, err
	}

	prefilter := security.NewPreFilter(security.DefaultThreatPatterns)
	strikes := security.NewStrikeTracker(0, 0)
	guardrail := security.NewGuardrail(prefilter, strikes)

	outputFilter, err := security.NewOutputFilter(policy.PublicLabels())
	if err != nil {
		return nil, fmt.Errorf("building output filter: %w", err)
	}

	policyEngine, err := policy.NewEngine(ctx, policy.NewValidator(), st, policy.Options{
		UnknownToolDeny: settings.UnknownToolDeny,
		BlockedTools:    cfg.BlockedTools,
	})
	if err != nil {
		return nil, fmt.Errorf("building policy engine: %w", err)
	}

	var intentProvider llm.Provider
	if cfg.IntentModel != "" {
		intentProvider, err = providerFor(cfg.IntentModel)
		if err != nil {
			return nil, fmt.Errorf("intent model: %w", err)
		}
	}
	classifier := intent.NewClassifier(prefilter, intentProvider, cfg.IntentModel)

	var (
		executor tools.Executor
		registry *tools.Registry
	)
	if cfg.MCPEndpoint != "" {
		executor = tools.NewMCPClient(cfg.MCPEndpoint, cfg.MCPToken, 30*time.Second)
		log.Info().Str("endpoint", cfg.MCPEndpoint).Msg("using_remote_tool_server")
	} else {
		registry = tools.NewRegistry()
		executor = registry
	}

	engine := agent.NewEngine(agent.Config{
		Provider:     provider,
		Executor:     executor,
		Policy:       policyEngine,
		Guardrail:    guardrail,
		Classifier:   classifier,
		OutputFilter: outputFilter,
		MaxTokens:    settings.MaxTokens,
	})

	sessions := session.NewManager()
	runner := task.NewRunner(engine, sessions, st, settings.WorkerCount, settings.FlushEvery)

	// Built-in tools need the runner for cancel_task, so they register
	// after the pool is up.
	if registry != nil {
		tools.RegisterBuiltin(registry, tools.BuiltinDeps{
			Store:    st,
			Provider: provider,
			Model:    cfg.DefaultModel,
			Canceler: runner,
		})
	}

	return &runtime{
		cfg:      cfg,
		settings: settings,
		st:       st,
		sessions: sessions,
		engine:   engine,
		runner:   runner,
		registry: registry,
	}, nil
}

// close shuts the pool down and releases the store.
func (rt *runtime) close() {
	rt.runner.Stop()
	if err := rt.st.Close(); err != nil {
		log.Warn().Err(err).Msg("store_close_failed")
	}
}

// providerFor resolves a completion provider from the model prefix. API
// keys come from the conventional env vars.
func providerFor(model string) (llm.Provider, error) {
	name, err := llm.InferProvider(model)
	if err != nil {
		return nil, err
	}
	switch name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			log.Warn().Msg("OPENAI_API_KEY is not set")
		}
		return llm.NewOpenAIProvider(key), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			log.Warn().Msg("ANTHROPIC_API_KEY is not set")
		}
		return llm.NewAnthropicProvider(key), nil
	default:
		return nil, fmt.Errorf("%w: %s", llm.ErrProviderNotAvailable, name)
	}
}
