package flockstate

import "time"

// TaskState is the closed set of states a TaskRecord may occupy,
// mirroring the A2A task states exposed to peers.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskAccepted      TaskState = "accepted"
	TaskRejected      TaskState = "rejected"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input-required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
)

// Terminal reports whether the task state has no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskRejected:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the closed enum values.
func (s TaskState) Valid() bool {
	switch s {
	case TaskSubmitted, TaskAccepted, TaskRejected, TaskWorking, TaskInputRequired,
		TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// TaskRecord is created once per A2A message/send and mutated only by the
// executor that created it as the task progresses.
type TaskRecord struct {
	TaskID          string         `json:"taskId"`
	ContextID       string         `json:"contextId"`
	FromAgentID     string         `json:"fromAgentId"`
	ToAgentID       string         `json:"toAgentId"`
	State           TaskState      `json:"state"`
	MessageType     string         `json:"messageType"`
	Summary         string         `json:"summary"`
	Payload         map[string]any `json:"payload,omitempty"`
	ResponseText    string         `json:"responseText,omitempty"`
	ResponsePayload map[string]any `json:"responsePayload,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe for the caller to mutate.
func (t *TaskRecord) Clone() *TaskRecord {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Payload = cloneMap(t.Payload)
	cp.ResponsePayload = cloneMap(t.ResponsePayload)
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		cp.CompletedAt = &ct
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
