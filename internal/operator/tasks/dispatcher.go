package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/mmlu-operator/internal/operator/evaluation"
	"github.com/trigg3rX/mmlu-operator/internal/operator/metrics"
	"github.com/trigg3rX/mmlu-operator/internal/operator/signer"
	"github.com/trigg3rX/mmlu-operator/internal/operator/store"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const DefaultMaxConcurrentTasks = 8

type DispatcherConfig struct {
	// MaxConcurrent bounds how many task lifecycles run at once.
	MaxConcurrent int
}

// Dispatcher runs the lifecycle of every detected task:
// detected -> evaluating -> signing -> submitting -> recorded, or failed.
// Each task index is dispatched at most once per process.
type Dispatcher struct {
	runner    EvaluationRunner
	attester  Attester
	submitter Submitter
	responses store.ResponseStore
	ledger    *AccuracyLedger
	logger    logging.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu       sync.RWMutex
	statuses map[uint32]*types.TaskStatus

	now func() time.Time
}

func NewDispatcher(
	cfg DispatcherConfig,
	runner EvaluationRunner,
	attester Attester,
	submitter Submitter,
	responses store.ResponseStore,
	ledger *AccuracyLedger,
	logger logging.Logger,
) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrentTasks
	}
	if responses == nil {
		responses = store.NewMemoryStore(0)
	}
	if ledger == nil {
		ledger = NewAccuracyLedger()
	}
	return &Dispatcher{
		runner:    runner,
		attester:  attester,
		submitter: submitter,
		responses: responses,
		ledger:    ledger,
		logger:    logger,
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		statuses:  make(map[uint32]*types.TaskStatus),
		now:       time.Now,
	}
}

func (d *Dispatcher) Ledger() *AccuracyLedger { return d.ledger }

// Dispatch claims task.Index and starts its lifecycle in the background. It
// returns false without doing anything if the index was already claimed.
// The lifecycle is cancelled when ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, task types.Task) bool {
	now := d.now()

	d.mu.Lock()
	if _, exists := d.statuses[task.Index]; exists {
		d.mu.Unlock()
		metrics.TasksDuplicateTotal.Inc()
		d.logger.Debug("Task already dispatched, ignoring", "taskIndex", task.Index, "subset", task.Name)
		return false
	}
	d.statuses[task.Index] = &types.TaskStatus{
		TaskIndex:  task.Index,
		Subset:     task.Name,
		State:      types.StateDetected,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	d.wg.Add(1)
	d.mu.Unlock()

	metrics.TasksDispatchedTotal.Inc()
	d.logger.Infof("Task #%d detected: subset %s, %d prompts", task.Index, task.Name, len(task.Prompts))

	go d.run(ctx, task)
	return true
}

// Wait blocks until every dispatched lifecycle has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Status returns a copy of the status of taskIndex.
func (d *Dispatcher) Status(taskIndex uint32) (types.TaskStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.statuses[taskIndex]
	if !ok {
		return types.TaskStatus{}, false
	}
	return *st, true
}

// Statuses returns a snapshot of all task statuses ordered by task index.
func (d *Dispatcher) Statuses() []types.TaskStatus {
	d.mu.RLock()
	out := make([]types.TaskStatus, 0, len(d.statuses))
	for _, st := range d.statuses {
		out = append(out, *st)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TaskIndex < out[j].TaskIndex })
	return out
}

func (d *Dispatcher) run(ctx context.Context, task types.Task) {
	defer d.wg.Done()
	start := d.now()
	logger := d.logger.With("taskIndex", task.Index, "subset", task.Name)

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		d.fail(logger, task, types.StateDetected, ctx.Err())
		return
	}
	defer func() { <-d.slots }()
	if err := ctx.Err(); err != nil {
		d.fail(logger, task, types.StateDetected, err)
		return
	}

	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()
	defer func() { metrics.TaskDurationSeconds.Observe(d.now().Sub(start).Seconds()) }()

	if d.alreadyResponded(ctx, logger, task.Index) {
		d.setState(task.Index, types.StateSkipped, nil)
		metrics.TasksFinishedTotal.WithLabelValues(string(types.StateSkipped)).Inc()
		logger.Info("Task already answered by this operator, skipping")
		return
	}

	d.setState(task.Index, types.StateEvaluating, nil)
	logger.Infof("Initiating evaluation for subset %s", task.Name)
	result, err := d.runner.RunToCompletion(ctx, evaluation.JobRequest{
		TaskIndex: task.Index,
		Subset:    task.Name,
		Prompts:   task.Prompts,
	})
	if err != nil {
		d.fail(logger, task, types.StateEvaluating, err)
		return
	}

	d.setState(task.Index, types.StateSigning, nil)
	att, err := d.attester.Attest(task, result.Accuracy)
	if err != nil {
		d.fail(logger, task, types.StateSigning, err)
		return
	}
	pct := signer.Percentage(att.AccuracyBasisPoints)
	logger.Infof("Evaluation completed. Accuracy: %.2f%%", pct)

	d.setState(task.Index, types.StateSubmitting, func(st *types.TaskStatus) { st.Accuracy = pct })
	logger.Infof("Signing and responding to task %d", task.Index)
	receipt, err := d.submitter.RespondToTask(ctx, task, att)
	if err != nil {
		var subErr *types.SubmissionError
		if errors.As(err, &subErr) && subErr.TxHash != (common.Hash{}) {
			d.setState(task.Index, types.StateSubmitting, func(st *types.TaskStatus) { st.TxHash = subErr.TxHash })
		}
		d.fail(logger, task, types.StateSubmitting, err)
		return
	}

	var txHash common.Hash
	if receipt != nil {
		txHash = receipt.TxHash
	}
	d.ledger.Record(task.Index, pct)
	d.setState(task.Index, types.StateRecorded, func(st *types.TaskStatus) { st.TxHash = txHash })
	metrics.TasksFinishedTotal.WithLabelValues(string(types.StateRecorded)).Inc()

	if err := d.responses.MarkResponded(ctx, store.Response{
		TaskIndex:           task.Index,
		Subset:              task.Name,
		AccuracyBasisPoints: att.AccuracyBasisPoints,
		TxHash:              txHash,
		RecordedAt:          d.now(),
	}); err != nil {
		logger.Warn("Failed to persist task response", "error", err)
	}

	logger.Infof("Responded to task %d (%s) with final accuracy: %.2f%%", task.Index, task.Name, pct)
	d.logAverage()
}

// alreadyResponded checks the local response store and then the contract.
// Lookup errors are logged and treated as not responded.
func (d *Dispatcher) alreadyResponded(ctx context.Context, logger logging.Logger, taskIndex uint32) bool {
	done, err := d.responses.HasResponded(ctx, taskIndex)
	if err != nil {
		logger.Warn("Response store lookup failed", "error", err)
	} else if done {
		return true
	}

	done, err = d.submitter.HasResponded(ctx, taskIndex)
	if err != nil {
		logger.Warn("On-chain response lookup failed", "error", err)
		return false
	}
	return done
}

func (d *Dispatcher) fail(logger logging.Logger, task types.Task, stage types.TaskState, err error) {
	d.setState(task.Index, types.StateFailed, func(st *types.TaskStatus) {
		st.FailedStage = stage
		st.Error = err.Error()
	})
	metrics.TasksFinishedTotal.WithLabelValues(string(types.StateFailed)).Inc()
	metrics.TaskFailuresTotal.WithLabelValues(string(stage)).Inc()
	logger.Error("Task failed", "stage", stage, "error", describe(err))
}

func (d *Dispatcher) setState(taskIndex uint32, state types.TaskState, update func(st *types.TaskStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.statuses[taskIndex]
	if !ok {
		return
	}
	st.State = state
	st.UpdatedAt = d.now()
	if update != nil {
		update(st)
	}
}

func (d *Dispatcher) logAverage() {
	avg, n := d.ledger.Average()
	metrics.AverageAccuracyPercent.Set(avg)
	if n == 0 {
		d.logger.Info("No tasks completed yet")
		return
	}
	d.logger.Infof("Average accuracy across %d tasks: %.2f%%", n, avg)
}

// describe names the error class for the failure log line.
func describe(err error) string {
	var (
		timeoutErr *types.TimeoutError
		serviceErr *types.ServiceError
		submitErr  *types.SubmissionError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("timeout: %v", err)
	case errors.As(err, &serviceErr):
		return fmt.Sprintf("evaluation service: %v", err)
	case errors.As(err, &submitErr):
		return fmt.Sprintf("submission: %v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("cancelled: %v", err)
	default:
		return err.Error()
	}
}
