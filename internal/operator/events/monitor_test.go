package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/mmlu-operator/internal/operator/chainio"
	"github.com/trigg3rX/mmlu-operator/internal/operator/evaluation"
	"github.com/trigg3rX/mmlu-operator/internal/operator/tasks"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
	"github.com/trigg3rX/mmlu-operator/pkg/retry"
)

var contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeSource serves historical logs from memory and live logs from a channel.
type fakeSource struct {
	mu          sync.Mutex
	head        uint64
	history     []ethtypes.Log
	live        chan ethtypes.Log
	subErrs     []chan error
	subscribeN  int
	failFirstN  int
	// subscriptions after maxSubs fail; zero means unlimited
	maxSubs     int
	failFilterN int
	filterCalls [][2]uint64
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{head: head, live: make(chan ethtypes.Log)}
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) LatestTaskNum(ctx context.Context) (uint32, error) {
	return 42, nil
}

func (f *fakeSource) FilterNewTasks(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	if len(f.filterCalls) <= f.failFilterN {
		return nil, errors.New("query returned more than 10000 results")
	}
	var out []ethtypes.Log
	for _, l := range f.history {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeNewTasks(ctx context.Context, sink chan<- ethtypes.Log) (event.Subscription, error) {
	f.mu.Lock()
	f.subscribeN++
	if f.subscribeN <= f.failFirstN || (f.maxSubs > 0 && f.subscribeN > f.maxSubs) {
		f.mu.Unlock()
		return nil, errors.New("dial failed")
	}
	errc := make(chan error, 1)
	f.subErrs = append(f.subErrs, errc)
	live := f.live
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case <-quit:
				return nil
			case err := <-errc:
				return err
			case l := <-live:
				select {
				case sink <- l:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (f *fakeSource) breakSubscription(err error) {
	f.mu.Lock()
	errc := f.subErrs[len(f.subErrs)-1]
	f.mu.Unlock()
	errc <- err
}

func (f *fakeSource) addHistory(l ethtypes.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, l)
	if l.BlockNumber > f.head {
		f.head = l.BlockNumber
	}
}

func (f *fakeSource) filters() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint64(nil), f.filterCalls...)
}

func (f *fakeSource) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeN
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []types.Task
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, task types.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return true
}

func (r *recordingDispatcher) indices() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Index)
	}
	return out
}

func taskLog(t *testing.T, index uint32, block uint64) ethtypes.Log {
	t.Helper()
	l, err := chainio.EncodeNewTaskCreatedLog(contract, types.Task{
		Index:            index,
		Name:             "high_school_biology",
		Prompts:          []types.Prompt{{Question: "q", Choices: []string{"a", "b", "c", "d"}}},
		TaskCreatedBlock: uint32(block),
		BlockNumber:      block,
		TxHash:           common.BigToHash(common.Big1),
	})
	require.NoError(t, err)
	return l
}

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func startMonitor(t *testing.T, source TaskSource, dispatcher TaskDispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	m := NewMonitor(source, dispatcher, MonitorConfig{
		Contract:          contract,
		HeartbeatInterval: time.Hour,
		SubscribeRetry:    fastRetry(),
	}, logging.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return cancel, done
}

func TestMonitor_BackfillWindow(t *testing.T) {
	source := newFakeSource(5000)
	source.addHistory(taskLog(t, 1, 3000))
	source.addHistory(taskLog(t, 2, 4500))
	dispatcher := &recordingDispatcher{}

	cancel, done := startMonitor(t, source, dispatcher)
	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []uint32{2}, dispatcher.indices())
	assert.Equal(t, [2]uint64{4000, 5000}, source.filterCalls[0])
}

func TestMonitor_BackfillFromGenesisOnShortChain(t *testing.T) {
	source := newFakeSource(10)
	source.addHistory(taskLog(t, 0, 3))
	dispatcher := &recordingDispatcher{}

	cancel, done := startMonitor(t, source, dispatcher)
	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, [2]uint64{0, 10}, source.filterCalls[0])
}

func TestMonitor_LiveTasksAndMalformedDropped(t *testing.T) {
	source := newFakeSource(100)
	dispatcher := &recordingDispatcher{}
	cancel, done := startMonitor(t, source, dispatcher)

	source.live <- ethtypes.Log{Topics: []common.Hash{chainio.NewTaskCreatedTopic}, BlockNumber: 101}
	source.live <- taskLog(t, 5, 102)
	removed := taskLog(t, 6, 103)
	removed.Removed = true
	source.live <- removed
	source.live <- taskLog(t, 7, 104)

	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []uint32{5, 7}, dispatcher.indices())
}

func TestMonitor_RetriesInitialSubscribe(t *testing.T) {
	source := newFakeSource(100)
	source.failFirstN = 2
	dispatcher := &recordingDispatcher{}
	cancel, done := startMonitor(t, source, dispatcher)

	source.live <- taskLog(t, 9, 101)
	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, source.subscriptions())
}

func TestMonitor_ResubscribesAndCatchesUp(t *testing.T) {
	source := newFakeSource(100)
	dispatcher := &recordingDispatcher{}
	cancel, done := startMonitor(t, source, dispatcher)

	source.live <- taskLog(t, 1, 101)
	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 1 }, time.Second, time.Millisecond)

	// A task lands while the subscription is down.
	source.addHistory(taskLog(t, 2, 110))
	source.breakSubscription(errors.New("websocket closed"))

	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 2 }, time.Second, time.Millisecond)
	source.live <- taskLog(t, 3, 111)
	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []uint32{1, 2, 3}, dispatcher.indices())
	assert.Equal(t, 2, source.subscriptions())

	last := source.filterCalls[len(source.filterCalls)-1]
	assert.Equal(t, [2]uint64{101, 110}, last)
}

func TestMonitor_ShutdownWhileResubscribing(t *testing.T) {
	source := newFakeSource(100)
	source.maxSubs = 1
	m := NewMonitor(source, &recordingDispatcher{}, MonitorConfig{
		Contract:          contract,
		HeartbeatInterval: time.Hour,
		SubscribeRetry:    &retry.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2},
	}, logging.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("monitor panicked: %v", r)
			}
		}()
		done <- m.Run(ctx)
	}()

	require.Eventually(t, func() bool { return source.subscriptions() == 1 }, time.Second, time.Millisecond)
	source.breakSubscription(errors.New("websocket closed"))
	require.Eventually(t, func() bool { return source.subscriptions() > 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_CatchUpAfterFailedBackfillUsesBackfillWindow(t *testing.T) {
	source := newFakeSource(5000)
	source.failFilterN = 1
	source.addHistory(taskLog(t, 4, 4800))
	dispatcher := &recordingDispatcher{}
	cancel, done := startMonitor(t, source, dispatcher)

	require.Eventually(t, func() bool { return len(source.filters()) == 1 }, time.Second, time.Millisecond)
	source.breakSubscription(errors.New("websocket closed"))

	require.Eventually(t, func() bool { return len(dispatcher.indices()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	calls := source.filters()
	require.Len(t, calls, 2)
	assert.Equal(t, [2]uint64{4000, 5000}, calls[1])
	assert.Equal(t, []uint32{4}, dispatcher.indices())
}

func TestMonitor_SubscribeGivesUp(t *testing.T) {
	source := newFakeSource(100)
	source.failFirstN = 100
	m := NewMonitor(source, &recordingDispatcher{}, MonitorConfig{HeartbeatInterval: time.Hour, SubscribeRetry: fastRetry()}, logging.NewNoOpLogger())

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial failed")
}

type countingRunner struct{ calls atomic.Int32 }

func (r *countingRunner) RunToCompletion(ctx context.Context, req evaluation.JobRequest) (*types.EvaluationResult, error) {
	r.calls.Add(1)
	return &types.EvaluationResult{Accuracy: 0.5}, nil
}

type okSubmitter struct{ calls atomic.Int32 }

func (s *okSubmitter) RespondToTask(ctx context.Context, task types.Task, att *types.Attestation) (*ethtypes.Receipt, error) {
	s.calls.Add(1)
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}, nil
}

func (s *okSubmitter) HasResponded(ctx context.Context, taskIndex uint32) (bool, error) {
	return false, nil
}

type staticAttester struct{}

func (staticAttester) Attest(task types.Task, accuracy float64) (*types.Attestation, error) {
	return &types.Attestation{TaskIndex: task.Index, Subset: task.Name, AccuracyBasisPoints: 5000}, nil
}

func TestMonitor_BackfillAndLiveDeliverSameTaskOnce(t *testing.T) {
	source := newFakeSource(100)
	source.addHistory(taskLog(t, 3, 100))

	runner := &countingRunner{}
	submitter := &okSubmitter{}
	dispatcher := tasks.NewDispatcher(tasks.DispatcherConfig{}, runner, staticAttester{}, submitter, nil, nil, logging.NewNoOpLogger())

	cancel, done := startMonitor(t, source, dispatcher)
	source.live <- taskLog(t, 3, 100)
	require.Eventually(t, func() bool {
		st, ok := dispatcher.Status(3)
		return ok && st.State == types.StateRecorded
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	dispatcher.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), submitter.calls.Load())
	assert.Len(t, dispatcher.Statuses(), 1)
}

func TestMonitor_Heartbeat(t *testing.T) {
	source := newFakeSource(77)
	logger := new(logging.MockLogger)
	logger.SetupDefaultExpectations()

	m := NewMonitor(source, &recordingDispatcher{}, MonitorConfig{}, logger)
	m.Heartbeat(context.Background())

	logger.AssertCalled(t, "Infof", "Current block number: %d", []interface{}{uint64(77)})
	logger.AssertCalled(t, "Infof", "Latest task number: %d", []interface{}{uint32(42)})
}
