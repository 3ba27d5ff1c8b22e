package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedNotification marks an event that could not be decoded into a Task.
var ErrMalformedNotification = errors.New("malformed task notification")

// ServiceError is a failure talking to the evaluation service.
type ServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("evaluation service %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("evaluation service %s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// TimeoutError is returned when a job is still pending after the poll budget.
type TimeoutError struct {
	JobID    string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation job %s not completed after %d polls at %v interval", e.JobID, e.Attempts, e.Interval)
}

// SubmissionError is a failed or reverted respondToTask transaction.
type SubmissionError struct {
	TaskIndex uint32
	TxHash    common.Hash
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("submission for task %d (tx %s) failed: %v", e.TaskIndex, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("submission for task %d failed: %v", e.TaskIndex, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfigurationError is a missing or invalid setting detected at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// MalformedNotification wraps a decoding failure so that it matches ErrMalformedNotification.
func MalformedNotification(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedNotification, fmt.Sprintf(format, args...))
}
