package domain

// RunStatus represents the lifecycle state of a repo test run
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFail    RunStatus = "fail"
	RunError   RunStatus = "error"
)

// Terminal reports whether the status is one of the final outcomes
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunPartial, RunFail, RunError:
		return true
	default:
		return false
	}
}

// EventType discriminates progress events
type EventType string

const (
	EventStatus         EventType = "status"
	EventClone          EventType = "clone"
	EventIterationStart EventType = "iteration_start"
	EventToolOutput     EventType = "tool_output"
	EventTestResult     EventType = "test_result"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"

	EventBatchStart    EventType = "batch_start"
	EventModelStart    EventType = "model_start"
	EventModelProgress EventType = "model_progress"
	EventModelComplete EventType = "model_complete"
	EventModelError    EventType = "model_error"
	EventBatchComplete EventType = "batch_complete"
)

// ProgressEvent is a single narration step emitted while a run executes
type ProgressEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
	Model   string    `json:"model,omitempty"`
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(ProgressEvent)

// Emit calls fn when it is set
func (fn ProgressFunc) Emit(ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
