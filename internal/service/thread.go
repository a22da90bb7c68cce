package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CreateThread creates a thread seeded with the given messages.
func (s *Service) CreateThread(ctx context.Context, req domain.CreateThreadRequest) (*domain.Thread, error) {
	now := s.nowMillis()
	thread := &domain.Thread{
		ID:        newID("thread_"),
		Object:    "thread",
		CreatedAt: now,
		Metadata:  req.Metadata,
	}
	messages, err := s.buildUserMessages(thread.ID, req.Messages, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateThread(ctx, thread, messages); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	s.logger.Debug("thread created", "thread_id", thread.ID, "messages", len(messages))
	return thread, nil
}

// GetThread returns a thread.
func (s *Service) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	if threadID == "" {
		return nil, domain.Validationf("thread_id is required")
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if thread == nil {
		return nil, domain.NotFoundf("thread %s", threadID)
	}
	return thread, nil
}

// ModifyThread replaces a thread's metadata.
func (s *Service) ModifyThread(ctx context.Context, threadID string, req domain.ModifyThreadRequest) (*domain.Thread, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateThreadMetadata(ctx, threadID, req.Metadata); err != nil {
		return nil, fmt.Errorf("failed to update thread: %w", err)
	}
	return s.GetThread(ctx, threadID)
}

// DeleteThread removes a thread and everything recorded on it. A thread with
// an active run cannot be deleted.
func (s *Service) DeleteThread(ctx context.Context, threadID string) (*domain.DeletionStatus, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete thread: %w", err)
	}
	if !deleted {
		return nil, domain.Conflictf("thread %s has an active run", threadID)
	}
	s.logger.Info("thread deleted", "thread_id", threadID)
	return &domain.DeletionStatus{ID: threadID, Object: "thread.deleted", Deleted: true}, nil
}

// buildUserMessages validates caller-supplied messages. Caller messages never
// carry a run id.
func (s *Service) buildUserMessages(threadID string, inputs []domain.InputMessage, now int64) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0, len(inputs))
	for i, in := range inputs {
		if in.Role == "" {
			in.Role = domain.RoleUser
		}
		if err := validateMessageInput(in.Role, in.Content); err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		messages = append(messages, &domain.Message{
			ID:        newID("msg_"),
			ThreadID:  threadID,
			Role:      in.Role,
			Content:   domain.TextContent(in.Content),
			CreatedAt: now,
			Metadata:  in.Metadata,
		})
	}
	return messages, nil
}

func validateMessageInput(role domain.Role, content string) error {
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return domain.Validationf("role must be user or assistant, got %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return domain.Validationf("content is required")
	}
	return nil
}
