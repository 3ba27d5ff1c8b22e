package tasks

import (
	"context"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/trigg3rX/mmlu-operator/internal/operator/evaluation"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunToCompletion(ctx context.Context, req evaluation.JobRequest) (*types.EvaluationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EvaluationResult), args.Error(1)
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) RespondToTask(ctx context.Context, task types.Task, att *types.Attestation) (*ethtypes.Receipt, error) {
	args := m.Called(ctx, task, att)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ethtypes.Receipt), args.Error(1)
}

func (m *mockSubmitter) HasResponded(ctx context.Context, taskIndex uint32) (bool, error) {
	args := m.Called(ctx, taskIndex)
	return args.Bool(0), args.Error(1)
}
