package scheduler

import "fmt"

// ValidationError reports a malformed submission. No job is created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AdmissionError reports that the running-job ceiling is reached. The caller
// may retry once capacity frees up.
type AdmissionError struct {
	MaxConcurrent  int
	CurrentRunning int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("maximum concurrent backtests reached: %d running, limit %d",
		e.CurrentRunning, e.MaxConcurrent)
}

// NotFoundError reports an unknown job id.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("backtest job %s not found", e.JobID)
}

// StateConflictError reports an operation that is not valid for the job's
// current status, such as cancelling a finished job or fetching the result
// of one still running.
type StateConflictError struct {
	JobID    string
	Status   Status
	Progress int
	Message  string
}

func (e *StateConflictError) Error() string {
	return e.Message
}
