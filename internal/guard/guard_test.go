package guard

import (
	"testing"
)

func TestGuard_CheckBudget(t *testing.T) {
	g := New(Policy{
		MaxSteps:        5,
		MaxPromptTokens: 1000,
		MaxOutputTokens: 500,
	})

	t.Run("Within", func(t *testing.T) {
		if v := g.CheckBudget(3, 500, 200); v != nil {
			t.Errorf("Unexpected violation: %v", v.Message)
		}
	})

	t.Run("Cap Is Inclusive", func(t *testing.T) {
		if v := g.CheckBudget(5, 100, 100); v != nil {
			t.Errorf("Step MaxSteps must still run, got violation: %v", v.Message)
		}
		if v := g.CheckBudget(6, 100, 100); v == nil {
			t.Error("Expected step violation past the cap")
		}
	})

	t.Run("Prompt Tokens Exceeded", func(t *testing.T) {
		if v := g.CheckBudget(1, 1500, 100); v == nil {
			t.Error("Expected prompt token violation")
		}
	})

	t.Run("Output Tokens Exceeded", func(t *testing.T) {
		if v := g.CheckBudget(1, 100, 600); v == nil {
			t.Error("Expected output token violation")
		}
	})

	t.Run("Zero Token Budgets Unlimited", func(t *testing.T) {
		gu := New(Policy{MaxSteps: 5})
		if v := gu.CheckBudget(1, 1_000_000, 1_000_000); v != nil {
			t.Errorf("Unexpected violation: %v", v.Message)
		}
	})
}

func TestGuard_CheckTool(t *testing.T) {
	g := New(Policy{
		AllowedTools: []string{"memory_*"},
	})

	t.Run("Allowed", func(t *testing.T) {
		if v := g.CheckTool("memory_add"); v != nil {
			t.Errorf("Unexpected violation: %v", v.Message)
		}
		if v := g.CheckTool("memory_search"); v != nil {
			t.Errorf("Unexpected violation: %v", v.Message)
		}
	})

	t.Run("Blocked", func(t *testing.T) {
		if v := g.CheckTool("run_shell"); v == nil {
			t.Error("Expected violation for run_shell")
		}
		if !g.CheckTool("run_shell").Fatal {
			t.Error("Expected fatal violation")
		}
	})

	t.Run("Wildcard", func(t *testing.T) {
		gw := New(Policy{AllowedTools: []string{"*"}})
		if v := gw.CheckTool("anything"); v != nil {
			t.Error("Expected no violation for wildcard")
		}
	})
}

func TestGuard_Defaults(t *testing.T) {
	g := New(Policy{})
	if g.Policy().MaxSteps != DefaultPolicy.MaxSteps {
		t.Errorf("Expected default MaxSteps %d, got %d", DefaultPolicy.MaxSteps, g.Policy().MaxSteps)
	}
}
