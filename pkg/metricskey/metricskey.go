package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsRPCRequestsSent is base for counter metric for total requests sent to the peer
	StatsRPCRequestsSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_requests_sent",
		Help:         "stats_rpc_requests_sent provides total requests sent to the peer",
		RequiredTags: []string{"method"},
	}

	StatsRPCRequestsRetried = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_requests_retried",
		Help:         "stats_rpc_requests_retried provides total request attempts retried after timeout",
		RequiredTags: []string{"method"},
	}

	StatsRPCRequestsTimedOut = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_requests_timed_out",
		Help:         "stats_rpc_requests_timed_out provides total requests failed after exhausting retries",
		RequiredTags: []string{"method"},
	}

	StatsRPCOrphanResponses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_orphan_responses",
		Help:         "stats_rpc_orphan_responses provides total responses discarded with no pending call",
		RequiredTags: []string{"channel"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsCacheHits = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_hits",
		Help:         "stats_cache_hits provides total tool call cache hits",
		RequiredTags: []string{"tool"},
	}

	StatsCacheMisses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_misses",
		Help:         "stats_cache_misses provides total tool call cache misses",
		RequiredTags: []string{"tool"},
	}

	StatsBreakerOpened = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_breaker_opened",
		Help:         "stats_breaker_opened provides total circuit breaker open transitions",
		RequiredTags: []string{"tool"},
	}

	StatsBreakerRejected = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_breaker_rejected",
		Help:         "stats_breaker_rejected provides total calls rejected by an open circuit",
		RequiredTags: []string{"tool"},
	}

	StatsBatchesDispatched = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_batches_dispatched",
		Help:         "stats_batches_dispatched provides total batches flushed to the peer",
		RequiredTags: []string{"key"},
	}

	StatsOrchestratorRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_orchestrator_runs_succeeded",
		Help:         "stats_orchestrator_runs_succeeded provides total orchestrator runs succeeded",
		RequiredTags: []string{"agent"},
	}

	StatsOrchestratorRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_orchestrator_runs_failed",
		Help:         "stats_orchestrator_runs_failed provides total orchestrator runs failed",
		RequiredTags: []string{"agent"},
	}
)

// Perf
var (
	PerfRPCRequest = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_rpc_request",
		Help:         "perf_rpc_request provides duration of a dispatched request",
		RequiredTags: []string{"method"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfOrchestratorRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_orchestrator_run",
		Help:         "perf_orchestrator_run provides duration of orchestrator run",
		RequiredTags: []string{"agent"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfOrchestratorRun,
	&PerfRPCRequest,
	&PerfToolCall,
	&StatsBatchesDispatched,
	&StatsBreakerOpened,
	&StatsBreakerRejected,
	&StatsCacheHits,
	&StatsCacheMisses,
	&StatsOrchestratorRunsFailed,
	&StatsOrchestratorRunsSucceeded,
	&StatsRPCOrphanResponses,
	&StatsRPCRequestsRetried,
	&StatsRPCRequestsSent,
	&StatsRPCRequestsTimedOut,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
