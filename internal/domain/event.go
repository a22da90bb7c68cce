package domain

// StreamEvent is one lifecycle event of a run. Exactly one payload field is set.
type StreamEvent struct {
	ID    string    `json:"id"`
	Type  EventType `json:"event"`
	RunID string    `json:"run_id"`
	Ts    int64     `json:"ts"` // Unix milliseconds

	Run     *Run       `json:"run,omitempty"`
	Step    *RunStep   `json:"step,omitempty"`
	Delta   *StepDelta `json:"delta,omitempty"`
	Message *Message   `json:"message,omitempty"`
}

// Data returns the event's payload.
func (e StreamEvent) Data() any {
	switch {
	case e.Run != nil:
		return e.Run
	case e.Step != nil:
		return e.Step
	case e.Delta != nil:
		return e.Delta
	case e.Message != nil:
		return e.Message
	}
	return nil
}

// StepDelta is an incremental content fragment of a message_creation step.
type StepDelta struct {
	StepID    string `json:"step_id"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content"`
}
