// Package agent runs the bounded step loop: assemble context from session
// history and long-term memory, ask the model for a strict-JSON decision,
// execute tool calls, and terminate on a final answer or the step cap.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/runlog"
	"github.com/felixgeelhaar/recall/internal/store"
)

// State is the loop's current phase.
type State string

const (
	StateStart     State = "start"
	StateThinking  State = "thinking"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

const systemPrompt = `You are a compact tool-using agent.

You have tools:
- memory_add(text, meta={...})
- memory_search(query, k=5)

You may also answer directly without tool calls.

You must ALWAYS output STRICT JSON, in one of the two forms:

A) Tool call:
{
  "type": "tool_call",
  "tool": "<tool_name>",
  "args": { ... },
  "why": "<short reason>"
}

B) Final answer:
{
  "type": "final",
  "answer": "<answer to the user>",
  "notes": "<optional constraints/assumptions>",
  "remember": ["<optional durable facts worth storing>"]
}

Rules:
- Never fabricate tool results.
- Prefer memory_search when you might have relevant prior memory.
- Use memory_add to store durable facts, decisions, preferences, or short summaries.
- In type="final", answer MUST be a string (not an object/array).
- Keep tool args minimal and valid.`

const exhaustedAnswer = "I could not finish within max_steps. Please refine the goal or increase max_steps."

// Request describes one query to run.
type Request struct {
	Query     string
	SessionID string // empty: create a fresh session
	RunID     string // empty: generate
	Remember  bool
	MaxSteps  int // <= 0: policy default
}

// Result is the outcome of a run. A Failed run still carries the partial
// transcript state: messages and run log entries written before the failure
// stay persisted.
type Result struct {
	Answer    string
	SessionID string
	RunID     string
	State     State
	Steps     int
	Meta      map[string]interface{}
	Memories  []memory.Item
	DebugLog  string
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	Store       store.Storage
	Memory      *memory.Store
	Provider    provider.Provider
	Policy      guard.Policy
	Tools       *ToolRegistry
	Sink        *runlog.Sink
	Bus         *EventBus
	Observer    *observe.Observer
	ContextTail int
	MemoryHits  int
}

// Loop orchestrates run executions. Safe for concurrent runs; each run's
// steps are strictly sequential.
type Loop struct {
	store       store.Storage
	memory      *memory.Store
	provider    provider.Provider
	policy      guard.Policy
	tools       *ToolRegistry
	sink        *runlog.Sink
	bus         *EventBus
	observe     *observe.Observer
	contextTail int
	memoryHits  int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Tools == nil {
		cfg.Tools = NewMemoryToolset(cfg.Memory, cfg.MemoryHits)
	}
	if cfg.Sink == nil {
		cfg.Sink = runlog.NewSink(0)
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.Policy.MaxSteps <= 0 {
		cfg.Policy.MaxSteps = guard.DefaultPolicy.MaxSteps
	}
	if len(cfg.Policy.AllowedTools) == 0 {
		cfg.Policy.AllowedTools = guard.DefaultPolicy.AllowedTools
	}
	if cfg.ContextTail <= 0 {
		cfg.ContextTail = 30
	}
	if cfg.MemoryHits <= 0 {
		cfg.MemoryHits = 5
	}
	return &Loop{
		store:       cfg.Store,
		memory:      cfg.Memory,
		provider:    cfg.Provider,
		policy:      cfg.Policy,
		tools:       cfg.Tools,
		sink:        cfg.Sink,
		bus:         cfg.Bus,
		observe:     cfg.Observer,
		contextTail: cfg.ContextTail,
		memoryHits:  cfg.MemoryHits,
	}
}

// Sink exposes the run log sink for pollers.
func (l *Loop) Sink() *runlog.Sink {
	return l.sink
}

// Bus exposes the event bus for subscribers.
func (l *Loop) Bus() *EventBus {
	return l.bus
}

// Run executes the step loop for one query.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := l.observe.StartSpan(ctx, "agent.run")
	defer span.End()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = l.policy.MaxSteps
	}
	pol := l.policy
	pol.MaxSteps = maxSteps
	g := guard.New(pol)

	res := &Result{RunID: runID, State: StateStart, Meta: map[string]interface{}{}}
	timings := map[string]float64{}
	var debug []string
	logf := func(format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		debug = append(debug, line)
		l.sink.Append(runID, line+"\n")
	}
	finish := func() {
		res.Meta["timings"] = timings
		res.Meta["step_count"] = res.Steps
		res.DebugLog = strings.Join(debug, "\n")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		if _, err := l.store.CreateSession(sessionID); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	} else if _, err := l.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	res.SessionID = sessionID

	runLog := l.observe.Log().With().Str("run", runID).Str("session", sessionID).Logger()
	runLog.Info().Str("provider", l.provider.Name()).Int("max_steps", maxSteps).Msg("starting run")
	l.bus.PublishWithData(EventRunStart, runID, sessionID, map[string]interface{}{"query": req.Query})

	fail := func(err error, msg string) (*Result, error) {
		res.State = StateFailed
		res.Answer = fmt.Sprintf("(error) %s: %v", msg, err)
		logf("[error] %s: %v", msg, err)
		// Error-flagged assistant message keeps the failed run visible in
		// the transcript.
		if _, aerr := l.store.AppendMessage(sessionID, "assistant", res.Answer); aerr != nil {
			runLog.Error().Err(aerr).Msg("failed to persist error message")
		}
		res.Meta["error"] = err.Error()
		finish()
		l.bus.PublishWithData(EventRunError, runID, sessionID, map[string]interface{}{"error": err.Error()})
		runLog.Error().Err(err).Msg(msg)
		return res, err
	}

	// The user query is persisted before any collaborator can fail, so
	// even a failed run shows it in the transcript.
	userMsg, err := l.store.AppendMessage(sessionID, "user", req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	res.State = StateThinking

	t0 := time.Now()
	hits, err := l.memory.Search(ctx, req.Query, l.memoryHits, "")
	timings["vector_search_total_s"] = time.Since(t0).Seconds()
	if err != nil {
		return fail(err, "memory retrieval failed")
	}
	res.Memories = hits
	logf("[vector] hits=%d", len(hits))

	t1 := time.Now()
	tail, err := l.store.ListMessages(sessionID, l.contextTail)
	timings["history_load_s"] = time.Since(t1).Seconds()
	if err != nil {
		return fail(err, "history load failed")
	}

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: formatMemoryHits(hits)},
	}
	for _, m := range tail {
		// The incoming query is appended below; skip its persisted copy.
		if m.ID == userMsg.ID {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Query})

	promptTokens, outputTokens := 0, 0

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			// Cancelled: stop advancing, keep what is already persisted.
			res.State = StateFailed
			res.Meta["cancelled"] = true
			logf("[agent] cancelled at step=%d", step)
			finish()
			l.bus.PublishWithData(EventRunError, runID, sessionID, map[string]interface{}{"error": err.Error()})
			return res, err
		}

		if v := g.CheckBudget(step, promptTokens, outputTokens); v != nil {
			if v.Rule != "max_steps" {
				logf("[guard] violation=%s", v.Rule)
				l.bus.PublishWithData(EventGuardViolation, runID, sessionID, map[string]interface{}{"rule": v.Rule})
			}
			break
		}

		res.Steps = step
		res.State = StateThinking
		logf("[agent] step=%d", step)
		l.bus.PublishWithData(EventStepStart, runID, sessionID, map[string]interface{}{"step": step})

		tChat := time.Now()
		resp, err := l.provider.Chat(ctx, messages)
		if err != nil {
			return fail(err, "model capability failed")
		}
		chatDur := time.Since(tChat).Seconds()
		timings["llm_chat_s_total"] += chatDur
		logf("[llm] chat_s=%.4f", chatDur)
		promptTokens += resp.Usage.PromptTokens
		outputTokens += resp.Usage.CompletionTokens
		l.bus.PublishWithData(EventModelResponse, runID, sessionID, map[string]interface{}{"step": step})

		// Raw model output is part of the transcript.
		if _, err := l.store.AppendMessage(sessionID, "assistant", resp.Content); err != nil {
			return fail(err, "failed to persist assistant message")
		}

		decision, perr := ParseDecision(resp.Content)
		if perr != nil || (decision.Type != "final" && decision.Type != "tool_call") {
			answer := "(fallback) " + resp.Content
			if _, err := l.store.AppendMessage(sessionID, "assistant", answer); err != nil {
				return fail(err, "failed to persist fallback answer")
			}
			res.State = StateDone
			res.Answer = answer
			res.Meta["fallback"] = true
			logf("[agent] fallback: model output was not protocol JSON")
			finish()
			runLog.Warn().Int("step", step).Msg("non-protocol model output, returning fallback answer")
			l.bus.PublishWithData(EventRunComplete, runID, sessionID, map[string]interface{}{"state": string(res.State)})
			return res, nil
		}

		if decision.Type == "final" {
			if _, err := l.store.AppendMessage(sessionID, "assistant", decision.Answer); err != nil {
				return fail(err, "failed to persist final answer")
			}
			res.State = StateDone
			res.Answer = decision.Answer
			if req.Remember && len(decision.Remember) > 0 {
				l.rememberFacts(ctx, runID, sessionID, decision.Remember, logf)
			}
			finish()
			runLog.Info().Int("steps", step).Msg("run complete")
			l.bus.PublishWithData(EventRunComplete, runID, sessionID, map[string]interface{}{"state": string(res.State)})
			return res, nil
		}

		res.State = StateActing
		logf("[tool] call=%s args=%v", decision.Tool, decision.Args)
		l.bus.PublishWithData(EventToolCallStart, runID, sessionID, map[string]interface{}{"tool": decision.Tool})

		var toolResult map[string]interface{}
		if v := g.CheckTool(decision.Tool); v != nil {
			toolResult = map[string]interface{}{"error": v.Message}
			logf("[guard] violation=%s", v.Rule)
			l.bus.PublishWithData(EventGuardViolation, runID, sessionID, map[string]interface{}{"rule": v.Rule, "tool": decision.Tool})
		} else if !l.tools.HasTool(decision.Tool) {
			toolResult = map[string]interface{}{
				"error":     fmt.Sprintf("unknown tool: %s", decision.Tool),
				"available": l.tools.Names(),
			}
		} else {
			tTool := time.Now()
			out, terr := l.tools.Execute(ctx, sessionID, decision.Tool, decision.Args)
			toolDur := time.Since(tTool).Seconds()
			timings["tool_s_total"] += toolDur
			logf("[tool] time_s=%.4f", toolDur)
			if terr != nil {
				if errors.Is(terr, memory.ErrEmbeddingUnavailable) {
					return fail(terr, "embedding capability failed")
				}
				toolResult = map[string]interface{}{"error": terr.Error(), "tool": decision.Tool}
			} else {
				toolResult = out
			}
		}

		resultJSON, err := json.Marshal(toolResult)
		if err != nil {
			resultJSON = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		if _, err := l.store.AppendMessage(sessionID, "tool", string(resultJSON)); err != nil {
			return fail(err, "failed to persist tool result")
		}
		l.bus.PublishWithData(EventToolCallEnd, runID, sessionID, map[string]interface{}{"tool": decision.Tool})

		res.State = StateObserving
		messages = append(messages,
			provider.Message{Role: "assistant", Content: resp.Content},
			provider.Message{Role: "tool", Content: string(resultJSON)},
			provider.Message{Role: "user", Content: "Continue using the tool result."},
		)
		l.bus.PublishWithData(EventStepEnd, runID, sessionID, map[string]interface{}{"step": step})
	}

	// Step budget exhausted without a final answer: terminate with a
	// best-effort answer rather than looping forever.
	if _, err := l.store.AppendMessage(sessionID, "assistant", exhaustedAnswer); err != nil {
		return fail(err, "failed to persist exhaustion answer")
	}
	res.State = StateDone
	res.Answer = exhaustedAnswer
	res.Meta["max_steps_hit"] = true
	logf("[agent] max_steps=%d hit", maxSteps)
	finish()
	runLog.Warn().Int("max_steps", maxSteps).Msg("step budget exhausted")
	l.bus.PublishWithData(EventRunComplete, runID, sessionID, map[string]interface{}{"state": string(res.State)})
	return res, nil
}

func (l *Loop) rememberFacts(ctx context.Context, runID, sessionID string, facts []string, logf func(string, ...interface{})) {
	for _, fact := range facts {
		out, err := l.memory.Add(ctx, fact, map[string]string{"session_id": sessionID, "tag": "remember"})
		if err != nil {
			logf("[memory] remember failed: %v", err)
			l.observe.Log().Warn().Str("run", runID).Err(err).Msg("failed to store remembered fact")
			continue
		}
		logf("[memory] remember outcome=%s id=%s", out.Outcome, out.ID)
		l.bus.PublishWithData(EventMemoryWritten, runID, sessionID, map[string]interface{}{
			"id":      out.ID,
			"outcome": string(out.Outcome),
		})
	}
}

func formatMemoryHits(hits []memory.Item) string {
	if len(hits) == 0 {
		return "Relevant memories: (none)"
	}
	var sb strings.Builder
	sb.WriteString("Relevant memories (semantic search):")
	for i, h := range hits {
		tag := h.Metadata["tag"]
		if tag == "" {
			tag = h.Metadata["type"]
		}
		sb.WriteString(fmt.Sprintf("\n%d. [distance=%.4f] ", i+1, h.Distance))
		if tag != "" {
			sb.WriteString("(" + tag + ") ")
		}
		sb.WriteString(h.Text)
	}
	return sb.String()
}
