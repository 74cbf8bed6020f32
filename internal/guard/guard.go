// Package guard enforces per-run limits: the hard step cap, token budgets
// and the tool allowlist.
package guard

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits and scopes for a single run.
type Policy struct {
	MaxSteps        int      `json:"max_steps"`
	MaxPromptTokens int      `json:"max_prompt_tokens"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	AllowedTools    []string `json:"allowed_tools"`
}

// DefaultPolicy provides safe defaults. MaxSteps matches the loop's default
// step budget; tools are limited to the memory surface.
var DefaultPolicy = Policy{
	MaxSteps:        6,
	MaxPromptTokens: 32000,
	MaxOutputTokens: 8000,
	AllowedTools:    []string{"memory_*"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	if p.MaxSteps <= 0 {
		p.MaxSteps = DefaultPolicy.MaxSteps
	}
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckBudget verifies cumulative usage is within limits. steps is the
// 1-based index of the step about to execute; the cap is inclusive, so step
// MaxSteps still runs and step MaxSteps+1 is the violation.
func (g *Guard) CheckBudget(steps, promptTokens, outputTokens int) *Violation {
	if steps > g.policy.MaxSteps {
		return &Violation{Rule: "max_steps", Message: "Step limit exceeded", Fatal: true}
	}
	if g.policy.MaxPromptTokens > 0 && promptTokens > g.policy.MaxPromptTokens {
		return &Violation{Rule: "max_prompt_tokens", Message: "Prompt token budget exceeded", Fatal: true}
	}
	if g.policy.MaxOutputTokens > 0 && outputTokens > g.policy.MaxOutputTokens {
		return &Violation{Rule: "max_output_tokens", Message: "Output token budget exceeded", Fatal: true}
	}
	return nil
}

// CheckTool verifies a tool name against the allowlist globs.
func (g *Guard) CheckTool(name string) *Violation {
	for _, pattern := range g.policy.AllowedTools {
		if match, err := doublestar.Match(pattern, name); err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_tools", Message: "Tool not allowed: " + name, Fatal: true}
}
