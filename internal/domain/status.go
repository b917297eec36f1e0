package domain

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TerminalStatuses lists the statuses no worker-driven transition leaves.
var TerminalStatuses = []JobStatus{JobStatusDone, JobStatusFailed, JobStatusCancelled}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is done, failed or cancelled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the job state machine:
// queued -> running -> {done, failed}; running -> cancelled.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusDone || to == JobStatusFailed || to == JobStatusCancelled
	default:
		return false
	}
}
