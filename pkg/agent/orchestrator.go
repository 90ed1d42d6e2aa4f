package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/internal/tracing"
	"github.com/harun/stockpilot/pkg/commandqueue"
	"github.com/harun/stockpilot/pkg/confirmation"
	"github.com/harun/stockpilot/pkg/runtime"
	"github.com/harun/stockpilot/pkg/session"
	"github.com/harun/stockpilot/pkg/toolclient"
	"github.com/harun/stockpilot/pkg/toolschema"
)

const tracerName = "stockpilot/agent"

// DefaultMaxRetries is the number of discovery attempts before degrading to tool-less mode.
const DefaultMaxRetries = 3

// Config holds orchestrator dependencies.
type Config struct {
	Tools    Discoverer
	Runtime  runtime.Runtime
	Sessions session.Store
	// Confirmations defaults to a store with the default timeout.
	Confirmations *confirmation.Store
	// Queue defaults to a private queue that Close shuts down.
	Queue      *commandqueue.CommandQueue
	MaxRetries int
	Logger     zerolog.Logger
	// Sleep waits between discovery attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Orchestrator discovers tools once, then processes user messages against the
// model runtime with a confirmation gate in front of destructive actions.
type Orchestrator struct {
	tools         Discoverer
	runtime       runtime.Runtime
	sessions      session.Store
	confirmations *confirmation.Store
	queue         *commandqueue.CommandQueue
	ownsQueue     bool
	maxRetries    int
	logger        zerolog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	discoverMu sync.Mutex

	mu       sync.RWMutex
	state    State
	agent    runtime.Agent
	compiled []*toolschema.CompiledTool
}

// New creates an Orchestrator in the Uninitialized state.
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool client is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("model runtime is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	o := &Orchestrator{
		tools:         cfg.Tools,
		runtime:       cfg.Runtime,
		sessions:      cfg.Sessions,
		confirmations: cfg.Confirmations,
		queue:         cfg.Queue,
		maxRetries:    cfg.MaxRetries,
		logger:        cfg.Logger.With().Str("component", "agent").Logger(),
		sleep:         cfg.Sleep,
		now:           cfg.Now,
	}
	if o.confirmations == nil {
		o.confirmations = confirmation.NewStore(confirmation.StoreConfig{Logger: cfg.Logger, Now: cfg.Now})
	}
	if o.queue == nil {
		o.queue = commandqueue.New(commandqueue.Config{Logger: cfg.Logger})
		o.ownsQueue = true
	}
	if o.maxRetries <= 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// State returns the lifecycle stage.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Tools returns the compiled tools registered with the current agent.
func (o *Orchestrator) Tools() []*toolschema.CompiledTool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*toolschema.CompiledTool(nil), o.compiled...)
}

// Confirmations exposes the pending confirmation store.
func (o *Orchestrator) Confirmations() *confirmation.Store {
	return o.confirmations
}

// DiscoverAndRegister initializes the model runtime, discovers and compiles
// the remote tools and binds a new agent to them. Discovery failures after the
// retry budget leave the orchestrator Ready with no tools; only runtime
// initialization, agent construction and cancellation are returned as errors.
func (o *Orchestrator) DiscoverAndRegister(ctx context.Context) error {
	o.discoverMu.Lock()
	defer o.discoverMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.discover",
		attribute.Int("max_retries", o.maxRetries),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	if err := o.runtime.Initialize(ctx); err != nil {
		tracing.RecordError(span, err)
		logger.Error().Err(err).Msg("Model runtime initialization failed")
		return fmt.Errorf("initialize model runtime: %w", err)
	}

	catalog, err := o.discoverWithRetry(ctx, logger)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	compiled := toolschema.CompileAll(catalog, o.tools, logger)
	o.mu.Lock()
	o.state = StateToolsDiscovered
	o.mu.Unlock()

	tools := make([]runtime.Tool, 0, len(compiled))
	for _, t := range compiled {
		tools = append(tools, t)
	}
	agent, err := o.runtime.NewAgent(buildInstructions(compiled), tools)
	if err != nil {
		tracing.RecordError(span, err)
		logger.Error().Err(err).Msg("Failed to create agent")
		return fmt.Errorf("create agent: %w", err)
	}

	o.mu.Lock()
	o.agent = agent
	o.compiled = compiled
	o.state = StateReady
	o.mu.Unlock()

	observability.SetToolsRegistered(len(compiled))
	span.SetAttributes(attribute.Int("tools", len(compiled)))
	if len(compiled) == 0 {
		logger.Warn().Msg("Agent ready in degraded mode without tools")
	} else {
		logger.Info().Int("tools", len(compiled)).Msg("Agent ready")
	}
	return nil
}

// discoverWithRetry returns a nil catalog when the tool host stays unavailable.
func (o *Orchestrator) discoverWithRetry(ctx context.Context, logger zerolog.Logger) (*toolclient.Catalog, error) {
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		catalog, err := o.tools.DiscoverTools(ctx)
		if err == nil {
			return catalog, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !toolclient.IsRetryable(err) {
			logger.Warn().Err(err).Msg("Tool discovery failed, continuing without tools")
			return nil, nil
		}
		if attempt == o.maxRetries-1 {
			logger.Warn().Err(err).Int("attempts", o.maxRetries).Msg("Tool discovery retries exhausted, continuing without tools")
			return nil, nil
		}

		// 1s, 2s, 4s, ...
		delay := time.Second << attempt
		logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying tool discovery")
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Close releases the private queue, if any. The session store and tool client
// belong to the caller.
func (o *Orchestrator) Close() error {
	if o.ownsQueue {
		return o.queue.Close()
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const toolInstructions = `You are StockPilot, an assistant for a small shop's inventory and billing.
Use the tools below to look up, add, update and delete inventory items and to create bills.
Only call a tool when the user asks for something it can do, and never invent tool results.
Creating bills and deleting items are destructive: the user is asked to confirm them, and a tool
may answer that the action requires confirmation. When that happens, describe what will be done
and wait for the user's reply.

Available tools:
%s`

const fallbackInstructions = `You are StockPilot, an assistant for a small shop's inventory and billing.
The inventory and billing tools are unavailable, so I cannot perform actions right now.
You can still explain how things work and answer general questions. If the user asks you to
change inventory or create a bill, tell them the action cannot be performed at the moment.`

func buildInstructions(tools []*toolschema.CompiledTool) string {
	if len(tools) == 0 {
		return fallbackInstructions
	}
	var b strings.Builder
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Signature())
		if desc := strings.TrimSpace(t.Description()); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(toolInstructions, b.String())
}

var errNotReady = errors.New("agent not ready")
