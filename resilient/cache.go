package resilient

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/pkg/metricskey"
	"github.com/effective-security/toolbridge/store"
	"github.com/effective-security/xlog"
)

// DefaultCacheTTL applies when CacheOptions.TTL is not set.
const DefaultCacheTTL = 5 * time.Minute

// CacheOptions configures the caching decorator.
type CacheOptions struct {
	// TTL is the lifetime of a cached result.
	TTL time.Duration
	// Cacheable reports whether results for the tool may be cached. Not
	// every tool is idempotent, so the default caches nothing: callers
	// must opt tools in.
	Cacheable func(tool string) bool
}

// CacheableTools returns a Cacheable predicate admitting exactly the named
// tools.
func CacheableTools(names ...string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return func(tool string) bool {
		_, ok := set[tool]
		return ok
	}
}

type cachingCaller struct {
	next      Caller
	store     store.Store
	ttl       time.Duration
	cacheable func(string) bool
}

// WithCache wraps the caller with a read-through result cache. Hits within
// the TTL never reach the peer. Only successful results of tools admitted
// by Cacheable are stored; failures and error-flagged results are never
// cached.
func WithCache(next Caller, st store.Store, opts CacheOptions) Caller {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.Cacheable == nil {
		opts.Cacheable = func(string) bool { return false }
	}
	return &cachingCaller{
		next:      next,
		store:     st,
		ttl:       opts.TTL,
		cacheable: opts.Cacheable,
	}
}

// cacheKey derives a stable key from the tool name and its canonicalized
// arguments. json.Marshal writes map keys in sorted order, so equal
// argument sets always produce the same key.
func cacheKey(name string, args map[string]any) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrap(err, "failed to canonicalize arguments")
	}
	return name + "@" + strconv.FormatUint(xxhash.Sum64(payload), 10), nil
}

func (c *cachingCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if !c.cacheable(name) {
		return c.next.CallTool(ctx, name, args)
	}

	key, err := cacheKey(name, args)
	if err != nil {
		return nil, err
	}

	if data, found, err := c.store.Get(ctx, key); err != nil {
		// a broken cache backend must not fail the call
		logger.ContextKV(ctx, xlog.WARNING, "reason", "cache_get", "tool", name, "err", err.Error())
	} else if found {
		var result mcp.CallToolResult
		if err := json.Unmarshal(data, &result); err == nil {
			metricskey.StatsCacheHits.IncrCounter(1, name)
			return &result, nil
		}
		// unparseable entry, drop it and fall through to the peer
		_ = c.store.Delete(ctx, key)
	}
	metricskey.StatsCacheMisses.IncrCounter(1, name)

	result, err := c.next.CallTool(ctx, name, args)
	if err != nil || result == nil || result.IsError {
		return result, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
			logger.ContextKV(ctx, xlog.WARNING, "reason", "cache_set", "tool", name, "err", err.Error())
		}
	}
	return result, nil
}
