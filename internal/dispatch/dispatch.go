// Package dispatch tracks the pending tool-call batch of a suspended run and
// validates its resolution.
package dispatch

import (
	"sort"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Batch is the immutable set of tool calls a run waits on.
type Batch struct {
	RunID  string
	StepID string

	mu       sync.Mutex
	calls    []domain.ToolCall
	index    map[string]int
	resolved bool
}

// NewBatch captures calls as the pending set of the given step.
func NewBatch(runID, stepID string, calls []domain.ToolCall) *Batch {
	b := &Batch{
		RunID:  runID,
		StepID: stepID,
		calls:  make([]domain.ToolCall, len(calls)),
		index:  make(map[string]int, len(calls)),
	}
	copy(b.calls, calls)
	for i, c := range b.calls {
		b.index[c.ID] = i
	}
	return b
}

// Pending returns copies of the calls that still await outputs.
func (b *Batch) Pending() []domain.ToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return nil
	}
	out := make([]domain.ToolCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// Resolve checks that outputs cover exactly the pending set and returns them
// keyed by tool call id. On success the batch is frozen.
func (b *Batch) Resolve(outputs []domain.ToolOutput) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved {
		return nil, domain.Conflictf("tool calls of run %s were already resolved", b.RunID)
	}

	byID := make(map[string]string, len(outputs))
	var unknown, duplicate []string
	for _, o := range outputs {
		if _, ok := b.index[o.ToolCallID]; !ok {
			unknown = append(unknown, o.ToolCallID)
			continue
		}
		if _, seen := byID[o.ToolCallID]; seen {
			duplicate = append(duplicate, o.ToolCallID)
			continue
		}
		byID[o.ToolCallID] = o.Output
	}

	var missing []string
	for _, c := range b.calls {
		if _, ok := byID[c.ID]; !ok {
			missing = append(missing, c.ID)
		}
	}

	if len(unknown) > 0 || len(duplicate) > 0 || len(missing) > 0 {
		return nil, domain.Conflictf("tool outputs do not match pending calls (%s)", describeMismatch(unknown, duplicate, missing))
	}

	b.resolved = true
	return byID, nil
}

func describeMismatch(unknown, duplicate, missing []string) string {
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) == 0 {
			return
		}
		sort.Strings(ids)
		parts = append(parts, label+": "+strings.Join(ids, ", "))
	}
	add("unknown", unknown)
	add("duplicate", duplicate)
	add("missing", missing)
	return strings.Join(parts, "; ")
}
