package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/stockpilot/internal/config"
	"github.com/harun/stockpilot/internal/logger"
	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/pkg/agent"
	"github.com/harun/stockpilot/pkg/commandqueue"
	"github.com/harun/stockpilot/pkg/confirmation"
	"github.com/harun/stockpilot/pkg/runtime"
	"github.com/harun/stockpilot/pkg/session"
	"github.com/harun/stockpilot/pkg/toolclient"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	tools    *toolclient.Client
	sessions session.Store
	queue    *commandqueue.CommandQueue
	orch     *agent.Orchestrator
}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			_ = log.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	} else {
		observability.SetAuditLogger(log.Component("audit"))
	}
	return log, nil
}

func newTransport(th config.ToolHostConfig) (toolclient.Transport, error) {
	switch th.Protocol {
	case "rest":
		return toolclient.NewRESTTransport(toolclient.RESTConfig{BaseURL: th.BaseURL, Headers: th.Headers}), nil
	case "jsonrpc":
		return toolclient.NewRPCTransport(toolclient.RPCConfig{Endpoint: th.BaseURL, Headers: th.Headers}), nil
	case "stdio":
		return toolclient.NewStdioTransport(toolclient.StdioConfig{Command: th.Command, Args: th.Args}), nil
	default:
		return nil, fmt.Errorf("unsupported tool host protocol %q", th.Protocol)
	}
}

func newToolClient(cfg *config.Config, log zerolog.Logger) (*toolclient.Client, error) {
	transport, err := newTransport(cfg.ToolHost)
	if err != nil {
		return nil, err
	}
	return toolclient.New(toolclient.Config{
		Transport: transport,
		Timeout:   cfg.ToolHost.Timeout,
		CacheTTL:  cfg.ToolHost.CacheTTL,
		Logger:    log,
	})
}

func newProvider(llm config.LLMConfig) (runtime.Provider, error) {
	switch llm.Provider {
	case "anthropic":
		return runtime.NewAnthropicProvider(runtime.AnthropicConfig{
			APIKey:     llm.APIKey,
			BaseURL:    llm.BaseURL,
			MaxRetries: llm.MaxRetries,
		}), nil
	case "openai":
		return runtime.NewOpenAIProvider(runtime.OpenAIConfig{
			APIKey:     llm.APIKey,
			BaseURL:    llm.BaseURL,
			MaxRetries: llm.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llm.Provider)
	}
}

func newSessionStore(cfg *config.Config, log zerolog.Logger) (session.Store, error) {
	switch cfg.Session.Driver {
	case "memory":
		return session.NewMemoryStore(cfg.Session.ContextSize, nil), nil
	case "sqlite":
		return session.NewSQLiteStore(session.SQLiteConfig{
			Path:        cfg.Session.Path,
			ContextSize: cfg.Session.ContextSize,
			Logger:      log,
		})
	default:
		return nil, fmt.Errorf("unsupported session driver %q", cfg.Session.Driver)
	}
}

// newApp validates the full config, wires every component and runs tool
// discovery. The caller must Close the returned app.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}
	if a.log, err = newLogger(cfg); err != nil {
		return nil, err
	}
	base := a.log.Zerolog()

	if a.tools, err = newToolClient(cfg, base); err != nil {
		a.Close()
		return nil, err
	}
	if a.sessions, err = newSessionStore(cfg, base); err != nil {
		a.Close()
		return nil, err
	}
	provider, err := newProvider(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	rt := runtime.NewLoopRuntime(runtime.LoopConfig{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		MaxTurns:    cfg.LLM.MaxTurns,
		Logger:      base,
	})
	a.queue = commandqueue.New(commandqueue.Config{Logger: base})

	a.orch, err = agent.New(agent.Config{
		Tools:    a.tools,
		Runtime:  rt,
		Sessions: a.sessions,
		Confirmations: confirmation.NewStore(confirmation.StoreConfig{
			Timeout: cfg.Agent.ConfirmationTimeout,
			Logger:  base,
		}),
		Queue:      a.queue,
		MaxRetries: cfg.Agent.MaxDiscoveryRetries,
		Logger:     base,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.orch.DiscoverAndRegister(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close())
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	if a.tools != nil {
		errs = append(errs, a.tools.Close())
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}
