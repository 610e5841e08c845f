package enums

import "fmt"

// JobStatus is the lifecycle of an inspection job.
type JobStatus string

const (
	JobStatusDraft         JobStatus = "draft"
	JobStatusOpen          JobStatus = "open"
	JobStatusAssigned      JobStatus = "assigned"
	JobStatusInProgress    JobStatus = "in_progress"
	JobStatusPendingReview JobStatus = "pending_review"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusCancelled     JobStatus = "cancelled"
	JobStatusExpired       JobStatus = "expired"
)

var validJobStatuses = []JobStatus{
	JobStatusDraft,
	JobStatusOpen,
	JobStatusAssigned,
	JobStatusInProgress,
	JobStatusPendingReview,
	JobStatusCompleted,
	JobStatusCancelled,
	JobStatusExpired,
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Cancellable reports whether a job in this status may still be cancelled.
func (s JobStatus) Cancellable() bool {
	switch s {
	case JobStatusDraft, JobStatusOpen, JobStatusAssigned, JobStatusInProgress:
		return true
	default:
		return false
	}
}

// HasInspector reports whether a job in this status must carry an assigned inspector.
func (s JobStatus) HasInspector() bool {
	switch s {
	case JobStatusAssigned, JobStatusInProgress, JobStatusPendingReview, JobStatusCompleted:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}
