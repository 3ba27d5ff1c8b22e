package evaluation

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

// MockEvaluator is a testify mock of Evaluator.
type MockEvaluator struct {
	mock.Mock
}

var _ Evaluator = (*MockEvaluator)(nil)

func (m *MockEvaluator) Start(ctx context.Context, subset string, prompts []types.Prompt) (string, error) {
	args := m.Called(ctx, subset, prompts)
	return args.String(0), args.Error(1)
}

func (m *MockEvaluator) Status(ctx context.Context, jobID string) (*types.EvaluationStatus, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EvaluationStatus), args.Error(1)
}
