package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/effective-security/toolbridge/assistants"
	"github.com/effective-security/toolbridge/chatmodel"
	"github.com/effective-security/toolbridge/pkg/llms"
	"github.com/effective-security/toolbridge/pkg/llmutils"
	"github.com/effective-security/toolbridge/tools"
)

var TimeNowFn = time.Now

// RunStats aggregates the outcome of a single chat run.
type RunStats struct {
	ChatID string

	Duration                time.Duration
	LLMInputTokens          int64
	LLMOutputTokens         int64
	LLMTotalTokens          int64
	AssistantCalls          uint32
	AssistantCallsSucceeded uint32
	AssistantCallsFailed    uint32
	ToolsCalls              uint32
	ToolsCallsSucceeded     uint32
	ToolsCallsFailed        uint32
	ToolNotFound            uint32
}

type run struct {
	startedAt  time.Time
	stats      RunStats
	transcript bytes.Buffer
}

// Scratchpad is a callback handler that accumulates per-run statistics,
// keyed by the chat ID carried on the context.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun begins tracking the chat identified by the context.
// Events for chats without a started run are ignored.
func (l *Scratchpad) StartRun(ctx context.Context) {
	chatID := chatmodel.GetChatID(ctx)
	if chatID == "" {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.runs[chatID] = &run{
		startedAt: TimeNowFn(),
		stats:     RunStats{ChatID: chatID},
	}
}

// EndRun stops tracking the chat and returns its statistics and,
// in verbose mode, the recorded transcript.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, string) {
	chatID := chatmodel.GetChatID(ctx)
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.runs[chatID]
	if r == nil {
		return nil, ""
	}
	delete(l.runs, chatID)
	r.stats.Duration = TimeNowFn().Sub(r.startedAt)
	return &r.stats, r.transcript.String()
}

func (l *Scratchpad) get(ctx context.Context) *run {
	return l.runs[chatmodel.GetChatID(ctx)]
}

func (l *Scratchpad) record(r *run, format string, args ...any) {
	if l.mode == ModeVerbose {
		fmt.Fprintf(&r.transcript, format+"\n", args...)
	}
}

func (l *Scratchpad) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.AssistantCalls++
	l.record(r, "assistant %s: %s", assistant.Name(), input)
}

func (l *Scratchpad) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, resp *llms.ContentResponse) {
	in, out, total := llmutils.CountTokens(resp)
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.AssistantCallsSucceeded++
	r.stats.LLMInputTokens += in
	r.stats.LLMOutputTokens += out
	r.stats.LLMTotalTokens += total
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			l.record(r, "assistant %s => %s", assistant.Name(), choice.Content)
		}
	}
}

func (l *Scratchpad) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.AssistantCallsFailed++
	l.record(r, "assistant %s failed: %s", assistant.Name(), err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, assistant assistants.IAssistant, tool string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.ToolNotFound++
	l.record(r, "tool %s not found", tool)
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.ToolsCalls++
	l.record(r, "tool %s: %s", tool.Name(), input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.ToolsCallsSucceeded++
	l.record(r, "tool %s => %s", tool.Name(), output)
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r := l.get(ctx)
	if r == nil {
		return
	}
	r.stats.ToolsCallsFailed++
	l.record(r, "tool %s failed: %s", tool.Name(), err.Error())
}
