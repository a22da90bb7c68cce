package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

var functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// CreateAssistant registers an immutable assistant configuration.
func (s *Service) CreateAssistant(ctx context.Context, req domain.CreateAssistantRequest) (*domain.Assistant, error) {
	if req.Model == "" {
		return nil, domain.Validationf("model is required")
	}
	tools, err := validateTools(req.Tools)
	if err != nil {
		return nil, err
	}

	assistant := &domain.Assistant{
		ID:           newID("asst_"),
		Object:       "assistant",
		Name:         req.Name,
		Instructions: req.Instructions,
		Model:        req.Model,
		Tools:        tools,
		Metadata:     req.Metadata,
		CreatedAt:    s.nowMillis(),
	}
	if err := s.store.CreateAssistant(ctx, assistant); err != nil {
		return nil, fmt.Errorf("failed to create assistant: %w", err)
	}
	return assistant, nil
}

// GetAssistant returns an assistant.
func (s *Service) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	if assistantID == "" {
		return nil, domain.Validationf("assistant_id is required")
	}
	assistant, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assistant: %w", err)
	}
	if assistant == nil {
		return nil, domain.NotFoundf("assistant %s", assistantID)
	}
	return assistant, nil
}

// ListAssistants pages through registered assistants.
func (s *Service) ListAssistants(ctx context.Context, opts domain.ListOptions) (*domain.ListResult[domain.Assistant], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	assistants, hasMore, err := s.store.ListAssistants(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistants: %w", err)
	}
	return newListResult(assistants, hasMore, func(a domain.Assistant) string { return a.ID }), nil
}

// validateTools checks tool declarations: function type, unique well-formed
// names and an object JSON Schema for parameters.
func validateTools(tools []domain.ToolSpec) ([]domain.ToolSpec, error) {
	out := make([]domain.ToolSpec, 0, len(tools))
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		if t.Type == "" {
			t.Type = domain.ToolCallTypeFunction
		}
		if t.Type != domain.ToolCallTypeFunction {
			return nil, domain.Validationf("tools[%d]: unsupported tool type %q", i, t.Type)
		}
		name := t.Function.Name
		if !functionNamePattern.MatchString(name) {
			return nil, domain.Validationf("tools[%d]: invalid function name %q", i, name)
		}
		if seen[name] {
			return nil, domain.Validationf("tools[%d]: duplicate function name %q", i, name)
		}
		seen[name] = true

		if len(t.Function.Parameters) > 0 {
			if err := validateParameters(t.Function.Parameters); err != nil {
				return nil, domain.Validationf("tools[%d]: %v", i, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func validateParameters(raw json.RawMessage) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("parameters are not a JSON Schema: %w", err)
	}
	if schema.Type != "object" {
		return errors.New(`parameters schema must have type "object"`)
	}
	for _, required := range schema.Required {
		if schema.Properties == nil {
			return fmt.Errorf("required property %q is not declared", required)
		}
		if _, ok := schema.Properties.Get(required); !ok {
			return fmt.Errorf("required property %q is not declared", required)
		}
	}
	return nil
}
