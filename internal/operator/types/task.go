package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Prompt is one multiple-choice question of an MMLU subset.
type Prompt struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

// Task is a decoded NewTaskCreated event. It is immutable after decoding.
type Task struct {
	Index            uint32      `json:"task_index"`
	Name             string      `json:"name"`
	Prompts          []Prompt    `json:"prompts"`
	TaskCreatedBlock uint32      `json:"task_created_block"`
	BlockNumber      uint64      `json:"block_number"`
	TxHash           common.Hash `json:"tx_hash"`
}

func (t Task) String() string {
	return fmt.Sprintf("task %d (%s, %d prompts)", t.Index, t.Name, len(t.Prompts))
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// EvaluationStatus is one status poll of an evaluation job.
type EvaluationStatus struct {
	Completed        bool    `json:"completed"`
	ProcessedPrompts int     `json:"processed_prompts"`
	TotalPrompts     int     `json:"total_prompts"`
	Accuracy         float64 `json:"accuracy"`
}

func (s EvaluationStatus) Status() JobStatus {
	if s.Completed {
		return JobCompleted
	}
	return JobPending
}

// EvaluationResult is the outcome of a job that reached completed.
type EvaluationResult struct {
	JobID            string  `json:"job_id"`
	ProcessedPrompts int     `json:"processed_prompts"`
	TotalPrompts     int     `json:"total_prompts"`
	Accuracy         float64 `json:"accuracy"`
	Polls            int     `json:"polls"`
}

// Attestation is the signed commitment submitted for one task.
type Attestation struct {
	TaskIndex           uint32 `json:"task_index"`
	Subset              string `json:"subset"`
	AccuracyBasisPoints uint64 `json:"accuracy_bp"`
	Message             string `json:"message"`
	Signature           []byte `json:"signature"`
}

// TaskState is the dispatcher lifecycle stage of a task.
type TaskState string

const (
	StateDetected   TaskState = "detected"
	StateEvaluating TaskState = "evaluating"
	StateSigning    TaskState = "signing"
	StateSubmitting TaskState = "submitting"
	StateRecorded   TaskState = "recorded"
	StateFailed     TaskState = "failed"
	StateSkipped    TaskState = "skipped"
)

func (s TaskState) IsTerminal() bool {
	return s == StateRecorded || s == StateFailed || s == StateSkipped
}

// TaskStatus is the externally visible record of a dispatched task.
type TaskStatus struct {
	TaskIndex   uint32      `json:"task_index"`
	Subset      string      `json:"subset"`
	State       TaskState   `json:"state"`
	Accuracy    float64     `json:"accuracy_pct,omitempty"`
	TxHash      common.Hash `json:"tx_hash,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailedStage TaskState   `json:"failed_stage,omitempty"`
	DetectedAt  time.Time   `json:"detected_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
