package canonical

import "strings"

// ---------------------------------------------------------------------------
// TaskStatus
// ---------------------------------------------------------------------------

// TaskStatus is the fixed three-state status every task-like entity maps onto
type TaskStatus string

const (
	// TaskStatusOpen indicates the task has not been started
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress indicates the task is actively being worked
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDone indicates the task is finished
	TaskStatusDone TaskStatus = "done"
)

// IsValid returns true if the status is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusDone:
		return true
	default:
		return false
	}
}

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	return string(s)
}

// doneMarkers and progressMarkers are matched as substrings against the
// lower-cased provider status vocabulary. Order matters: done wins over
// in_progress so that e.g. "Review Done" normalizes to done.
var (
	doneMarkers     = []string{"done", "closed", "resolved", "complete", "shipped", "deployed"}
	progressMarkers = []string{"progress", "review", "testing", "doing", "started", "active"}
)

// NormalizeStatus maps a provider status vocabulary onto the fixed
// three-state enum. Unrecognized and empty values normalize to open.
func NormalizeStatus(providerStatus string) TaskStatus {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	if s == "" {
		return TaskStatusOpen
	}
	for _, m := range doneMarkers {
		if strings.Contains(s, m) {
			return TaskStatusDone
		}
	}
	for _, m := range progressMarkers {
		if strings.Contains(s, m) {
			return TaskStatusInProgress
		}
	}
	return TaskStatusOpen
}

// ---------------------------------------------------------------------------
// TaskPriority
// ---------------------------------------------------------------------------

// TaskPriority is the fixed four-state priority every task-like entity maps onto
type TaskPriority string

const (
	// TaskPriorityLow is the lowest priority bucket
	TaskPriorityLow TaskPriority = "low"
	// TaskPriorityMedium is the default priority bucket
	TaskPriorityMedium TaskPriority = "medium"
	// TaskPriorityHigh is the elevated priority bucket
	TaskPriorityHigh TaskPriority = "high"
	// TaskPriorityUrgent is the highest priority bucket
	TaskPriorityUrgent TaskPriority = "urgent"
)

// IsValid returns true if the priority is valid
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	default:
		return false
	}
}

// String returns the string representation of TaskPriority
func (p TaskPriority) String() string {
	return string(p)
}

var (
	urgentMarkers = []string{"highest", "urgent", "critical", "blocker", "p0", "p1"}
	highMarkers   = []string{"high", "major", "p2"}
	lowMarkers    = []string{"lowest", "low", "trivial", "minor", "p4", "p5"}
)

// NormalizePriority maps a provider priority vocabulary onto the fixed
// four-state enum. Absent or unrecognized values default to medium.
func NormalizePriority(providerPriority string) TaskPriority {
	p := strings.ToLower(strings.TrimSpace(providerPriority))
	if p == "" {
		return TaskPriorityMedium
	}
	for _, m := range urgentMarkers {
		if strings.Contains(p, m) {
			return TaskPriorityUrgent
		}
	}
	// "highest" already matched above, so a plain substring check is safe here
	for _, m := range highMarkers {
		if strings.Contains(p, m) {
			return TaskPriorityHigh
		}
	}
	for _, m := range lowMarkers {
		if strings.Contains(p, m) {
			return TaskPriorityLow
		}
	}
	return TaskPriorityMedium
}
