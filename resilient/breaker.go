package resilient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/pkg/metricskey"
	"github.com/effective-security/xlog"
)

const (
	// DefaultBreakerThreshold is the consecutive-failure count that opens
	// a circuit.
	DefaultBreakerThreshold = 5
	// DefaultBreakerCooldown is how long an open circuit rejects calls
	// before admitting a trial.
	DefaultBreakerCooldown = 30 * time.Second
)

// CircuitOpenError reports a call rejected without peer contact because
// the tool's circuit is open.
type CircuitOpenError struct {
	Tool       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tool %s, retry after %v", e.Tool, e.RetryAfter)
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuit tracks one tool's failure history. Transitions are the only
// mutations.
type circuit struct {
	state               circuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// BreakerOptions configures the circuit-breaking decorator.
type BreakerOptions struct {
	// Threshold is the number of consecutive failures that opens a
	// tool's circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects calls before letting
	// one trial call through.
	Cooldown time.Duration
}

type breakingCaller struct {
	next      Caller
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	circuits map[string]*circuit
	now      func() time.Time
}

// WithBreaker wraps the caller with a per-tool circuit breaker. Each
// tool's circuit opens after Threshold consecutive failures; while open,
// calls to that tool fail immediately with CircuitOpenError. After the
// cooldown, exactly one trial call is admitted: success closes the
// circuit, failure reopens it and restarts the cooldown.
//
// Tool-level failures do not count against the circuit: a peer that ran
// the tool and reported a tool error is healthy. Unknown tool names never
// reach the breaker's accounting either.
func WithBreaker(next Caller, opts BreakerOptions) Caller {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultBreakerThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerCooldown
	}
	return &breakingCaller{
		next:      next,
		threshold: opts.Threshold,
		cooldown:  opts.Cooldown,
		circuits:  map[string]*circuit{},
		now:       time.Now,
	}
}

// countable reports whether the error indicates an unhealthy peer.
func countable(err error) bool {
	var execErr *mcp.ToolExecutionError
	var notFound *mcp.NotFoundError
	return !errors.As(err, &execErr) && !errors.As(err, &notFound)
}

// admit decides whether a call may proceed, returning the rejection error
// if not.
func (b *breakingCaller) admit(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[name]
	if c == nil {
		c = &circuit{}
		b.circuits[name] = c
	}

	switch c.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		elapsed := b.now().Sub(c.openedAt)
		if elapsed < b.cooldown {
			metricskey.StatsBreakerRejected.IncrCounter(1, name)
			return errors.WithStack(&CircuitOpenError{Tool: name, RetryAfter: b.cooldown - elapsed})
		}
		// cooldown elapsed: admit this caller as the sole trial
		c.state = circuitHalfOpen
		c.probing = true
		return nil
	case circuitHalfOpen:
		if c.probing {
			metricskey.StatsBreakerRejected.IncrCounter(1, name)
			return errors.WithStack(&CircuitOpenError{Tool: name, RetryAfter: b.cooldown})
		}
		c.probing = true
		return nil
	}
	return nil
}

// record applies the call outcome to the tool's circuit.
func (b *breakingCaller) record(name string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[name]
	if c == nil {
		return
	}

	if !failed {
		c.state = circuitClosed
		c.consecutiveFailures = 0
		c.probing = false
		return
	}

	switch c.state {
	case circuitClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= b.threshold {
			c.state = circuitOpen
			c.openedAt = b.now()
			metricskey.StatsBreakerOpened.IncrCounter(1, name)
			logger.KV(xlog.WARNING,
				"reason", "circuit_opened",
				"tool", name,
				"failures", c.consecutiveFailures)
		}
	case circuitHalfOpen:
		// trial failed, back to open with a fresh cooldown
		c.state = circuitOpen
		c.openedAt = b.now()
		c.probing = false
		metricskey.StatsBreakerOpened.IncrCounter(1, name)
	}
}

func (b *breakingCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if err := b.admit(name); err != nil {
		return nil, err
	}
	result, err := b.next.CallTool(ctx, name, args)
	if err != nil && !countable(err) {
		// the peer is healthy; release the trial slot without moving the
		// circuit either way
		b.mu.Lock()
		if c := b.circuits[name]; c != nil && c.state == circuitHalfOpen {
			c.probing = false
		}
		b.mu.Unlock()
		return result, err
	}
	b.record(name, err != nil)
	return result, err
}
