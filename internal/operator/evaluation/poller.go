package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/trigg3rX/mmlu-operator/internal/operator/metrics"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const (
	DefaultMaxPolls                 = 180
	DefaultPollInterval             = 10 * time.Second
	DefaultMaxConsecutivePollErrors = 10
)

type PollerConfig struct {
	MaxPolls     int
	PollInterval time.Duration
	// MaxConsecutiveErrors aborts the job after this many transport errors in
	// a row. Zero disables the limit.
	MaxConsecutiveErrors int
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxPolls:             DefaultMaxPolls,
		PollInterval:         DefaultPollInterval,
		MaxConsecutiveErrors: DefaultMaxConsecutivePollErrors,
	}
}

type JobRequest struct {
	TaskIndex uint32
	Subset    string
	Prompts   []types.Prompt
}

// Poller drives one evaluation job from start to a terminal result.
type Poller struct {
	evaluator Evaluator
	config    PollerConfig
	logger    logging.Logger
}

func NewPoller(evaluator Evaluator, config PollerConfig, logger logging.Logger) *Poller {
	if config.MaxPolls <= 0 {
		config.MaxPolls = DefaultMaxPolls
	}
	if config.PollInterval < 0 {
		config.PollInterval = 0
	}
	if config.MaxConsecutiveErrors < 0 {
		config.MaxConsecutiveErrors = 0
	}
	return &Poller{evaluator: evaluator, config: config, logger: logger}
}

// RunToCompletion starts the job once and polls it at a fixed interval until it
// completes, the poll budget runs out (*types.TimeoutError), too many polls in
// a row fail (*types.ServiceError), or ctx is done.
//
// Every poll counts against MaxPolls whether it returned pending or an error.
func (p *Poller) RunToCompletion(ctx context.Context, req JobRequest) (*types.EvaluationResult, error) {
	jobID, err := p.evaluator.Start(ctx, req.Subset, req.Prompts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, asServiceError("start", err)
	}

	logger := p.logger.With("taskIndex", req.TaskIndex, "subset", req.Subset, "jobID", jobID)
	logger.Infof("Evaluation started for subset %s", req.Subset)

	consecutiveErrors := 0
	for attempt := 1; attempt <= p.config.MaxPolls; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.config.PollInterval); err != nil {
				return nil, err
			}
		}

		status, err := p.evaluator.Status(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.EvaluationPollsTotal.WithLabelValues("error").Inc()
			consecutiveErrors++
			logger.Warn("Evaluation status poll failed", "attempt", attempt, "maxPolls", p.config.MaxPolls, "consecutiveErrors", consecutiveErrors, "error", err)
			if p.config.MaxConsecutiveErrors > 0 && consecutiveErrors >= p.config.MaxConsecutiveErrors {
				return nil, asServiceError("status", fmt.Errorf("%d consecutive poll failures: %w", consecutiveErrors, err))
			}
			continue
		}
		consecutiveErrors = 0

		if status.Completed {
			metrics.EvaluationPollsTotal.WithLabelValues("completed").Inc()
			if math.IsNaN(status.Accuracy) || status.Accuracy < 0 || status.Accuracy > 1 {
				return nil, &types.ServiceError{Op: "status", Err: fmt.Errorf("accuracy %v outside [0,1]", status.Accuracy)}
			}
			return &types.EvaluationResult{
				JobID:            jobID,
				ProcessedPrompts: status.ProcessedPrompts,
				TotalPrompts:     status.TotalPrompts,
				Accuracy:         status.Accuracy,
				Polls:            attempt,
			}, nil
		}

		metrics.EvaluationPollsTotal.WithLabelValues("pending").Inc()
		logger.Infof("Evaluation in progress. Attempt %d / %d. Processed: %d/%d",
			attempt, p.config.MaxPolls, status.ProcessedPrompts, status.TotalPrompts)
	}

	return nil, &types.TimeoutError{JobID: jobID, Attempts: p.config.MaxPolls, Interval: p.config.PollInterval}
}

func asServiceError(op string, err error) error {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &types.ServiceError{Op: op, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
