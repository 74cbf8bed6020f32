package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/recall/internal/memory"
)

// ToolDefinition represents a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
}

// ToolExecutor executes a tool call. The returned value is serialized as
// JSON and fed back to the model, so executors return plain maps.
type ToolExecutor func(ctx context.Context, sessionID string, args map[string]interface{}) (map[string]interface{}, error)

// ToolRegistry manages available tools and their execution.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]ToolDefinition
	executors map[string]ToolExecutor
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:     make(map[string]ToolDefinition),
		executors: make(map[string]ToolExecutor),
	}
}

// Register adds a tool to the registry.
func (tr *ToolRegistry) Register(tool ToolDefinition, executor ToolExecutor) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}

	tr.tools[tool.Name] = tool
	tr.executors[tool.Name] = executor
	return nil
}

// Names returns all registered tool names.
func (tr *ToolRegistry) Names() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tools))
	for name := range tr.tools {
		names = append(names, name)
	}
	return names
}

// HasTool checks if a tool is registered.
func (tr *ToolRegistry) HasTool(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	_, ok := tr.tools[name]
	return ok
}

// Execute runs a tool and returns its result.
func (tr *ToolRegistry) Execute(ctx context.Context, sessionID, name string, args map[string]interface{}) (map[string]interface{}, error) {
	tr.mu.RLock()
	executor, ok := tr.executors[name]
	tr.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return executor(ctx, sessionID, args)
}

// NewMemoryToolset returns a registry with the memory surface the agent
// protocol exposes: memory_add and memory_search.
func NewMemoryToolset(mem *memory.Store, defaultHits int) *ToolRegistry {
	tr := NewToolRegistry()

	_ = tr.Register(ToolDefinition{
		Name:        "memory_add",
		Description: "Store a durable fact, decision or preference in long-term memory",
	}, func(ctx context.Context, sessionID string, args map[string]interface{}) (map[string]interface{}, error) {
		text, _ := args["text"].(string)
		if text == "" {
			return nil, fmt.Errorf("memory_add requires a non-empty 'text' argument")
		}

		meta := map[string]string{}
		if raw, ok := args["meta"].(map[string]interface{}); ok {
			for k, v := range raw {
				meta[k] = fmt.Sprintf("%v", v)
			}
		}
		if _, ok := meta["session_id"]; !ok && sessionID != "" {
			meta["session_id"] = sessionID
		}

		res, err := mem.Add(ctx, text, meta)
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"memory_id": res.ID,
			"outcome":   string(res.Outcome),
		}
		if res.Outcome == memory.OutcomeDuplicateSemantic {
			out["distance"] = res.Distance
		}
		return out, nil
	})

	_ = tr.Register(ToolDefinition{
		Name:        "memory_search",
		Description: "Search long-term memory by semantic similarity",
	}, func(ctx context.Context, sessionID string, args map[string]interface{}) (map[string]interface{}, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("memory_search requires a non-empty 'query' argument")
		}

		k := defaultHits
		if raw, ok := args["k"].(float64); ok && int(raw) > 0 {
			k = int(raw)
		}

		items, err := mem.Search(ctx, query, k, "")
		if err != nil {
			return nil, err
		}
		hits := make([]map[string]interface{}, 0, len(items))
		for _, it := range items {
			hits = append(hits, map[string]interface{}{
				"id":       it.ID,
				"text":     it.Text,
				"distance": it.Distance,
				"metadata": it.Metadata,
			})
		}
		return map[string]interface{}{"hits": hits}, nil
	})

	return tr
}
