// Package policy gates model-requested tool calls with an OPA policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document a tool call is evaluated against.
type Input struct {
	ToolName      string   `json:"tool_name"`
	Arguments     string   `json:"arguments"`
	AssistantID   string   `json:"assistant_id"`
	Model         string   `json:"model"`
	DeclaredTools []string `json:"declared_tools"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks one tool call. The policy's decision is either a string or
// an object with "decision" and "reason" keys; no result means allow.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return "", "", fmt.Errorf("policy returned an object without a decision")
		}
		return decision, reason, nil
	default:
		return "", "", fmt.Errorf("unexpected policy result type %T", val)
	}
}

// DefaultPolicy blocks calls to functions the assistant did not declare and
// calls whose arguments are not valid JSON.
const DefaultPolicy = `
package tool_policy

import rego.v1

default decision := {"decision": "allow", "reason": ""}

declared if {
	some name in input.declared_tools
	name == input.tool_name
}

decision := {"decision": "block", "reason": sprintf("function %q is not declared by the assistant", [input.tool_name])} if {
	not declared
}

decision := {"decision": "block", "reason": "function arguments are not valid JSON"} if {
	declared
	not json.is_valid(input.arguments)
}
`
