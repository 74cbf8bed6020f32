package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/vector"
)

type loopEnv struct {
	loop    *Loop
	storage *store.SQLiteStore
	mem     *memory.Store
	stub    *provider.StubProvider
}

func newTestLoop(t *testing.T, stub *provider.StubProvider) *loopEnv {
	t.Helper()
	tmpDir, _ := os.MkdirTemp("", "loop-test-*")
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	storage, err := store.NewSQLiteStore(filepath.Join(tmpDir, "recall.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	index, err := vector.NewEphemeral(0)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	mem := memory.New(storage, index, stub, 0.08)

	loop := NewLoop(LoopConfig{
		Store:    storage,
		Memory:   mem,
		Provider: stub,
		Observer: observe.New(io.Discard, false),
	})
	return &loopEnv{loop: loop, storage: storage, mem: mem, stub: stub}
}

func roles(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestLoop_FinalAnswerFirstStep(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Default = provider.Response{Content: `{"type":"final","answer":"your favorite color is blue"}`}
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "what is my favorite color?"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("expected Done, got %s", res.State)
	}
	if res.Answer != "your favorite color is blue" {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if res.Steps != 1 {
		t.Errorf("expected 1 step, got %d", res.Steps)
	}
	if res.SessionID == "" {
		t.Error("expected an implicit session to be created")
	}

	msgs, err := env.storage.ListMessages(res.SessionID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	// user query, raw model JSON, final answer
	want := []string{"user", "assistant", "assistant"}
	got := roles(msgs)
	if len(got) != len(want) {
		t.Fatalf("expected transcript %v, got %v", want, got)
	}
	if msgs[0].Content != "what is my favorite color?" {
		t.Errorf("expected persisted user query, got %q", msgs[0].Content)
	}
	if msgs[2].Content != res.Answer {
		t.Errorf("expected persisted final answer, got %q", msgs[2].Content)
	}
}

func TestLoop_TerminatesAtExactlyMaxSteps(t *testing.T) {
	stub := provider.NewStubProvider()
	// Never produces a final answer.
	stub.Default = provider.Response{Content: `{"type":"tool_call","tool":"memory_search","args":{"query":"anything"},"why":"stalling"}`}
	env := newTestLoop(t, stub)

	const maxSteps = 3
	res, err := env.loop.Run(context.Background(), Request{Query: "loop forever", MaxSteps: maxSteps})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("expected Done after exhaustion, got %s", res.State)
	}
	if res.Steps != maxSteps {
		t.Errorf("expected exactly %d steps, got %d", maxSteps, res.Steps)
	}
	if stub.ChatCalls != maxSteps {
		t.Errorf("expected exactly %d model calls, got %d", maxSteps, stub.ChatCalls)
	}
	if res.Meta["max_steps_hit"] != true {
		t.Errorf("expected max_steps_hit meta, got %v", res.Meta)
	}
	if !strings.Contains(res.Answer, "could not finish") {
		t.Errorf("expected best-effort answer, got %q", res.Answer)
	}

	// The best-effort answer is persisted as the last assistant message.
	msgs, _ := env.storage.ListMessages(res.SessionID, 0)
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != res.Answer {
		t.Errorf("expected persisted exhaustion answer, got %s %q", last.Role, last.Content)
	}
}

func TestLoop_FallbackOnNonProtocolOutput(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Default = provider.Response{Content: "I think the answer is blue."}
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "color?"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("expected Done, got %s", res.State)
	}
	if res.Answer != "(fallback) I think the answer is blue." {
		t.Errorf("unexpected fallback answer %q", res.Answer)
	}
	if res.Meta["fallback"] != true {
		t.Errorf("expected fallback meta, got %v", res.Meta)
	}
}

func TestLoop_ToolCallFlow(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Responses = []provider.Response{
		{Content: `{"type":"tool_call","tool":"memory_add","args":{"text":"favorite color is blue"},"why":"durable preference"}`},
		{Content: `{"type":"final","answer":"noted"}`},
	}
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "remember my favorite color is blue"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone || res.Answer != "noted" {
		t.Errorf("expected final 'noted', got %s %q", res.State, res.Answer)
	}
	if res.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", res.Steps)
	}

	n, _ := env.mem.Count()
	if n != 1 {
		t.Errorf("expected 1 stored memory, got %d", n)
	}

	msgs, _ := env.storage.ListMessages(res.SessionID, 0)
	// user, raw tool_call, tool result, raw final, final answer
	want := []string{"user", "assistant", "tool", "assistant", "assistant"}
	got := roles(msgs)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected transcript %v, got %v", want, got)
	}
	if !strings.Contains(msgs[2].Content, "inserted") {
		t.Errorf("expected tool result with outcome, got %q", msgs[2].Content)
	}

	tail := env.loop.Sink().Tail(res.RunID, 8192)
	if !strings.Contains(tail, "[agent] step=1") || !strings.Contains(tail, "[tool] call=memory_add") {
		t.Errorf("expected run log step and tool entries, got %q", tail)
	}
	if res.DebugLog == "" {
		t.Error("expected debug log")
	}
}

func TestLoop_RememberOnDone(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Default = provider.Response{Content: `{"type":"final","answer":"ok","remember":["user lives in Berlin"]}`}

	t.Run("RememberEnabled", func(t *testing.T) {
		env := newTestLoop(t, stub)
		if _, err := env.loop.Run(context.Background(), Request{Query: "hi", Remember: true}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		n, _ := env.mem.Count()
		if n != 1 {
			t.Errorf("expected remembered fact, got %d items", n)
		}
	})

	t.Run("RememberDisabled", func(t *testing.T) {
		env := newTestLoop(t, stub)
		if _, err := env.loop.Run(context.Background(), Request{Query: "hi", Remember: false}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		n, _ := env.mem.Count()
		if n != 0 {
			t.Errorf("expected no memory writes, got %d items", n)
		}
	})
}

func TestLoop_BlockedToolContinues(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Responses = []provider.Response{
		{Content: `{"type":"tool_call","tool":"run_shell","args":{"cmd":"ls"},"why":"curious"}`},
		{Content: `{"type":"final","answer":"fine"}`},
	}
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "try a shell"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateDone || res.Answer != "fine" {
		t.Errorf("expected run to continue past blocked tool, got %s %q", res.State, res.Answer)
	}

	msgs, _ := env.storage.ListMessages(res.SessionID, 0)
	var toolMsg string
	for _, m := range msgs {
		if m.Role == "tool" {
			toolMsg = m.Content
		}
	}
	if !strings.Contains(toolMsg, "not allowed") {
		t.Errorf("expected policy error in tool result, got %q", toolMsg)
	}
}

func TestLoop_ModelUnavailable(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.ChatErr = fmt.Errorf("%w: connection refused", provider.ErrUnavailable)
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "hello?", MaxSteps: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if res == nil || res.State != StateFailed {
		t.Fatalf("expected Failed result, got %+v", res)
	}
	if res.Answer == "" {
		t.Error("expected error-flagged answer")
	}

	// The user message survives even though the model never answered.
	msgs, merr := env.storage.ListMessages(res.SessionID, 0)
	if merr != nil {
		t.Fatalf("ListMessages failed: %v", merr)
	}
	if len(msgs) == 0 || msgs[0].Role != "user" || msgs[0].Content != "hello?" {
		t.Fatalf("expected persisted user message, got %v", roles(msgs))
	}

	tail := env.loop.Sink().Tail(res.RunID, 8192)
	if !strings.Contains(tail, "[error]") {
		t.Errorf("expected failure entry in run log, got %q", tail)
	}
}

func TestLoop_EmbeddingUnavailable(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.EmbedErr = fmt.Errorf("%w: embedder down", provider.ErrUnavailable)
	env := newTestLoop(t, stub)

	res, err := env.loop.Run(context.Background(), Request{Query: "hello?"})
	if !errors.Is(err, memory.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("expected Failed, got %s", res.State)
	}

	msgs, _ := env.storage.ListMessages(res.SessionID, 0)
	if len(msgs) == 0 || msgs[0].Role != "user" {
		t.Errorf("expected persisted user message, got %v", roles(msgs))
	}
}

func TestLoop_UnknownSession(t *testing.T) {
	env := newTestLoop(t, provider.NewStubProvider())

	_, err := env.loop.Run(context.Background(), Request{Query: "hi", SessionID: "ghost"})
	if !errors.Is(err, store.ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestLoop_EmptyQuery(t *testing.T) {
	env := newTestLoop(t, provider.NewStubProvider())
	if _, err := env.loop.Run(context.Background(), Request{Query: "   "}); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestLoop_SessionReuse(t *testing.T) {
	stub := provider.NewStubProvider()
	env := newTestLoop(t, stub)

	if _, err := env.storage.CreateSession("s1"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	first, err := env.loop.Run(context.Background(), Request{Query: "one", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.SessionID != "s1" {
		t.Errorf("expected session 's1', got %q", first.SessionID)
	}

	before, _ := env.storage.ListMessages("s1", 0)
	if _, err := env.loop.Run(context.Background(), Request{Query: "two", SessionID: "s1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	after, _ := env.storage.ListMessages("s1", 0)
	if len(after) <= len(before) {
		t.Errorf("expected transcript to grow, %d -> %d", len(before), len(after))
	}
}

func TestLoop_EventsPublished(t *testing.T) {
	stub := provider.NewStubProvider()
	env := newTestLoop(t, stub)

	var types []EventType
	env.loop.Bus().SubscribeAll(func(e Event) { types = append(types, e.Type) })

	if _, err := env.loop.Run(context.Background(), Request{Query: "hi"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	seen := map[EventType]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	for _, want := range []EventType{EventRunStart, EventStepStart, EventModelResponse, EventRunComplete} {
		if !seen[want] {
			t.Errorf("expected %s event, got %v", want, types)
		}
	}
	if types[0] != EventRunStart {
		t.Errorf("expected run_start first, got %v", types[0])
	}
}

func TestLoop_Cancellation(t *testing.T) {
	stub := provider.NewStubProvider()
	env := newTestLoop(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.loop.Run(ctx, Request{Query: "hi"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res != nil && res.State != StateFailed {
		t.Errorf("expected Failed on cancellation, got %s", res.State)
	}
}
