// Package bridge assembles a ready-to-use tool caller from configuration:
// a pool of initialized peer sessions over stdio, wrapped with circuit
// breaking, result caching and optional request batching.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/assistants"
	"github.com/effective-security/toolbridge/config"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/mcp/protocol"
	"github.com/effective-security/toolbridge/mcp/transport/stdio"
	"github.com/effective-security/toolbridge/resilient"
	"github.com/effective-security/toolbridge/store"
	"github.com/effective-security/toolbridge/tools"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge", "bridge")

// Bridge is the assembled stack. It implements resilient.Caller, so it
// can be handed to the tool adapters directly.
type Bridge struct {
	cfg    *config.Config
	pool   *resilient.Pool
	caller resilient.Caller
	tools  []mcp.ToolDescriptor
	redis  *redis.Client
}

var _ resilient.Caller = (*Bridge)(nil)

// Load reads the configuration from file and opens the bridge.
func Load(ctx context.Context, file string) (*Bridge, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg)
}

// Open spawns and initializes a pool of peer sessions per the
// configuration and stacks the decorators on top. Opening is
// all-or-nothing: if any session fails its handshake, every session
// already opened is closed and the error is returned.
func Open(ctx context.Context, cfg *config.Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{cfg: cfg}

	// Every session discovers the same peer; keep the first listing as
	// the bridge-wide tool snapshot.
	var once sync.Once
	pool, err := resilient.NewPool(ctx, cfg.Pool.Size, func(ctx context.Context) (resilient.Caller, error) {
		sess, err := newSession(ctx, cfg)
		if err != nil {
			return nil, err
		}
		once.Do(func() {
			b.tools = sess.client.Tools()
		})
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	b.pool = pool

	caller := resilient.Caller(pool)
	caller = resilient.WithBreaker(caller, resilient.BreakerOptions{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
	})
	if len(cfg.Cache.Tools) > 0 {
		caller = resilient.WithCache(caller, b.openStore(), resilient.CacheOptions{
			TTL:       cfg.Cache.TTL,
			Cacheable: resilient.CacheableTools(cfg.Cache.Tools...),
		})
	}
	if cfg.Batch.Size > 0 || cfg.Batch.Window > 0 {
		caller = resilient.WithBatcher(caller, resilient.BatcherOptions{
			Size:   cfg.Batch.Size,
			Window: cfg.Batch.Window,
		})
	}
	b.caller = caller

	logger.ContextKV(ctx, xlog.DEBUG,
		"reason", "bridge_opened",
		"peer", cfg.Peer.Command,
		"pool", cfg.Pool.Size,
		"tools", len(b.tools))
	return b, nil
}

func (b *Bridge) openStore() store.Store {
	if b.cfg.Cache.RedisAddr == "" {
		return store.NewMemoryStore()
	}
	b.redis = redis.NewClient(&redis.Options{Addr: b.cfg.Cache.RedisAddr})
	return store.NewRedisStore(b.redis, "toolbridge")
}

// CallTool invokes the named tool through the decorated stack.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return b.caller.CallTool(ctx, name, args)
}

// Tools returns the peer's tool listing from discovery.
func (b *Bridge) Tools() []mcp.ToolDescriptor {
	return b.tools
}

// AssistantTools adapts the discovered tools for the orchestration loop.
func (b *Bridge) AssistantTools() ([]tools.ITool, error) {
	return tools.NewMCPTools(b, b.tools)
}

// AssistantOptions returns the orchestration settings carried by the
// configuration.
func (b *Bridge) AssistantOptions() []assistants.Option {
	return []assistants.Option{
		assistants.WithMaxIterations(b.cfg.Agent.MaxIterations),
	}
}

// Close shuts down every pooled session and the cache backend.
func (b *Bridge) Close() error {
	err := b.pool.Close()
	if b.redis != nil {
		if cerr := b.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// session is one pooled peer connection: its own subprocess, transport
// and initialized client.
type session struct {
	client  *mcp.Client
	timeout time.Duration
}

func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	tr := stdio.New(stdio.Config{
		Command: cfg.Peer.Command,
		Args:    cfg.Peer.Args,
		Env:     cfg.Peer.Env,
	})
	client := mcp.NewClient(tr, mcp.WithRetry(protocol.RetryPolicy{
		MaxAttempts: cfg.Calls.RetryLimit + 1,
		BaseBackoff: cfg.Calls.RetryBackoff,
	}))
	if _, err := client.Initialize(ctx); err != nil {
		return nil, errors.WithMessage(err, "failed to initialize session")
	}
	if err := client.Discover(ctx); err != nil {
		_ = client.Close()
		return nil, errors.WithMessage(err, "failed to discover peer")
	}
	return &session{client: client, timeout: cfg.Calls.Timeout}, nil
}

func (s *session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return s.client.CallToolWithOptions(ctx, name, args, &protocol.RequestOptions{
		Timeout: s.timeout,
	})
}

func (s *session) Close() error {
	return s.client.Close()
}
