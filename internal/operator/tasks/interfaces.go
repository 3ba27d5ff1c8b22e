package tasks

import (
	"context"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/trigg3rX/mmlu-operator/internal/operator/evaluation"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

// EvaluationRunner drives one evaluation job to completion.
type EvaluationRunner interface {
	RunToCompletion(ctx context.Context, req evaluation.JobRequest) (*types.EvaluationResult, error)
}

// Attester turns an accuracy into a signed attestation.
type Attester interface {
	Attest(task types.Task, accuracy float64) (*types.Attestation, error)
}

// Submitter publishes attestations and answers whether one already exists on chain.
type Submitter interface {
	RespondToTask(ctx context.Context, task types.Task, att *types.Attestation) (*ethtypes.Receipt, error)
	HasResponded(ctx context.Context, taskIndex uint32) (bool, error)
}
