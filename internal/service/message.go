package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CreateMessage appends a caller message to a thread. Appending while a run
// owns the thread is a conflict.
func (s *Service) CreateMessage(ctx context.Context, threadID string, req domain.CreateMessageRequest) (*domain.Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = domain.RoleUser
	}
	if err := validateMessageInput(req.Role, req.Content); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        newID("msg_"),
		ThreadID:  threadID,
		Role:      req.Role,
		Content:   domain.TextContent(req.Content),
		CreatedAt: s.nowMillis(),
		Metadata:  req.Metadata,
	}
	ok, err := s.store.AppendMessageIfIdle(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if !ok {
		return nil, domain.Conflictf("thread %s has an active run", threadID)
	}
	return msg, nil
}

// GetMessage returns one message of a thread.
func (s *Service) GetMessage(ctx context.Context, threadID, messageID string) (*domain.Message, error) {
	if messageID == "" {
		return nil, domain.Validationf("message_id is required")
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, domain.NotFoundf("message %s", messageID)
	}
	return msg, nil
}

// ModifyMessage replaces a message's metadata.
func (s *Service) ModifyMessage(ctx context.Context, threadID, messageID string, req domain.ModifyMessageRequest) (*domain.Message, error) {
	if _, err := s.GetMessage(ctx, threadID, messageID); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateMessageMetadata(ctx, threadID, messageID, req.Metadata); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return s.GetMessage(ctx, threadID, messageID)
}

// ListMessages pages through a thread's message log.
func (s *Service) ListMessages(ctx context.Context, threadID string, opts domain.ListOptions) (*domain.ListResult[domain.Message], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	msgs, hasMore, err := s.store.ListMessages(ctx, threadID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return newListResult(msgs, hasMore, func(m domain.Message) string { return m.ID }), nil
}

func newListResult[T any](items []T, hasMore bool, id func(T) string) *domain.ListResult[T] {
	if items == nil {
		items = []T{}
	}
	res := &domain.ListResult[T]{Object: "list", Data: items, HasMore: hasMore}
	if len(items) > 0 {
		res.FirstID = id(items[0])
		res.LastID = id(items[len(items)-1])
	}
	return res
}
