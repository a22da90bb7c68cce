package service

import (
	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// publish delivers an event to the run's stream sessions. Callers hold the
// run lock, so events of one run leave in the order of its transitions.
// Delivery waits on slow subscribers and only gives up on shutdown.
func (s *Service) publish(event domain.StreamEvent) {
	if _, err := s.streamer.Publish(s.baseCtx, event); err != nil {
		s.logger.Warn("event delivery interrupted", "run_id", event.RunID, "event", event.Type, "error", err)
	}
}

func (s *Service) publishRun(run *domain.Run) {
	s.publish(domain.StreamEvent{Type: domain.RunEventType(run.Status), RunID: run.ID, Run: run.Clone()})
}

func (s *Service) publishStep(eventType domain.EventType, step *domain.RunStep) {
	snapshot := *step
	s.publish(domain.StreamEvent{Type: eventType, RunID: step.RunID, Step: &snapshot})
}

func (s *Service) publishDelta(runID string, step *domain.RunStep, text string) {
	delta := &domain.StepDelta{StepID: step.ID, Content: text}
	if step.StepDetails.MessageCreation != nil {
		delta.MessageID = step.StepDetails.MessageCreation.MessageID
	}
	s.publish(domain.StreamEvent{Type: domain.EventTypeRunStepDelta, RunID: runID, Delta: delta})
}

func (s *Service) publishMessage(runID string, msg *domain.Message) {
	snapshot := *msg
	s.publish(domain.StreamEvent{Type: domain.EventTypeMessageCreated, RunID: runID, Message: &snapshot})
}
