package toolclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTimeout bounds every request to the tool host.
	DefaultTimeout = 10 * time.Second
	// DefaultCacheTTL is how long a discovered catalog stays fresh.
	DefaultCacheTTL = 5 * time.Minute

	// ClientName and ClientVersion identify this client to MCP hosts.
	ClientName    = "stockpilot"
	ClientVersion = "0.1.0"

	tracerName = "stockpilot/toolclient"
)

// Config configures a Client.
type Config struct {
	Transport Transport
	Timeout   time.Duration
	CacheTTL  time.Duration
	Logger    zerolog.Logger
	// Now is used for cache freshness checks. Defaults to time.Now.
	Now func() time.Time
}

// Client caches the tool catalog of one host and invokes its tools.
type Client struct {
	transport Transport
	timeout   time.Duration
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	// refreshMu serializes refreshes; mu guards the published snapshot.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	catalog   *Catalog
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		transport: cfg.Transport,
		timeout:   cfg.Timeout,
		ttl:       cfg.CacheTTL,
		logger:    cfg.Logger.With().Str("component", "toolclient").Logger(),
		now:       cfg.Now,
	}, nil
}

// DiscoverTools returns the cached catalog while it is fresh, otherwise
// fetches a new one from the host. A payload without a tool list yields an
// empty catalog that is not cached.
func (c *Client) DiscoverTools(ctx context.Context) (*Catalog, error) {
	if catalog := c.fresh(); catalog != nil {
		observability.RecordDiscovery("cached")
		return catalog, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if catalog := c.fresh(); catalog != nil {
		observability.RecordDiscovery("cached")
		return catalog, nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "toolclient.discover")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	descs, err := c.transport.ListTools(callCtx)
	if err != nil {
		err = classify("discover", err)
		tracing.RecordError(span, err)

		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			logger.Warn().Err(err).Msg("Tool host returned a malformed catalog")
			observability.RecordDiscovery("malformed")
			return &Catalog{Tools: map[string]ToolDescriptor{}, FetchedAt: c.now(), TTL: c.ttl}, nil
		}

		observability.RecordDiscovery("error")
		return nil, err
	}

	tools := make(map[string]ToolDescriptor, len(descs))
	for _, desc := range descs {
		if _, dup := tools[desc.Name]; dup {
			logger.Warn().Str("tool", desc.Name).Msg("Duplicate tool name in catalog, keeping first")
			continue
		}
		tools[desc.Name] = desc
	}

	catalog := &Catalog{Tools: tools, FetchedAt: c.now(), TTL: c.ttl}

	c.mu.Lock()
	c.catalog = catalog
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("tools.count", len(tools)))
	observability.RecordDiscovery("fetched")
	logger.Info().Int("tools", len(tools)).Msg("Tool catalog refreshed")

	return catalog, nil
}

// InvokeTool calls a remote tool exactly once.
func (c *Client) InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "toolclient.invoke", attribute.String("tool.name", name))
	defer span.End()

	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.transport.CallTool(callCtx, name, arguments)
	duration := time.Since(start)
	logger := tracing.LoggerFromContext(ctx, c.logger)

	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Tool == "" {
			execErr.Tool = name
		}
		err = classify("invoke "+name, err)
		tracing.RecordError(span, err)
		observability.RecordToolInvocation(name, duration, false)
		observability.RecordToolAudit(ctx, name, tracing.GetSessionID(ctx), "failure", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"error":       Reason(err),
		})
		logger.Warn().
			Err(err).
			Str("tool", name).
			Dur("duration", duration).
			Msg("Tool invocation failed")
		return nil, err
	}

	observability.RecordToolInvocation(name, duration, true)
	observability.RecordToolAudit(ctx, name, tracing.GetSessionID(ctx), "success", map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	logger.Debug().
		Str("tool", name).
		Dur("duration", duration).
		Msg("Tool invoked")

	return result, nil
}

// ClearCache drops the cached catalog so the next discovery refetches.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.catalog = nil
	c.mu.Unlock()
}

// CacheValid reports whether a fresh catalog is cached.
func (c *Client) CacheValid() bool {
	return c.fresh() != nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) fresh() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.catalog != nil && c.catalog.ValidAt(c.now()) {
		return c.catalog
	}
	return nil
}
