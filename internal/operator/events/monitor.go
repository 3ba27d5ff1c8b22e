package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/robfig/cron/v3"

	"github.com/trigg3rX/mmlu-operator/internal/operator/chainio"
	"github.com/trigg3rX/mmlu-operator/internal/operator/metrics"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
	"github.com/trigg3rX/mmlu-operator/pkg/retry"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultBackfillBlocks    = 1000

	sourceLive     = "live"
	sourceBackfill = "backfill"
	sourceCatchUp  = "catchup"
)

// TaskSource is the chain view the monitor needs. *chainio.Client satisfies it.
type TaskSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	LatestTaskNum(ctx context.Context) (uint32, error)
	FilterNewTasks(ctx context.Context, from, to uint64) ([]ethtypes.Log, error)
	SubscribeNewTasks(ctx context.Context, sink chan<- ethtypes.Log) (event.Subscription, error)
}

// TaskDispatcher receives every well-formed task. Dispatch must not block.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task types.Task) bool
}

type MonitorConfig struct {
	Contract          common.Address
	HeartbeatInterval time.Duration
	BackfillBlocks    uint64
	// SubscribeRetry controls (re)subscription. Nil retries until shutdown.
	SubscribeRetry *retry.RetryConfig
}

// Monitor watches the service manager for NewTaskCreated and hands each task
// to the dispatcher. Duplicate deliveries are left to the dispatcher.
type Monitor struct {
	source     TaskSource
	dispatcher TaskDispatcher
	config     MonitorConfig
	logger     logging.Logger

	lastBlock uint64
}

func NewMonitor(source TaskSource, dispatcher TaskDispatcher, config MonitorConfig, logger logging.Logger) *Monitor {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.BackfillBlocks == 0 {
		config.BackfillBlocks = DefaultBackfillBlocks
	}
	if config.SubscribeRetry == nil {
		config.SubscribeRetry = retry.ReconnectRetryConfig()
	}
	return &Monitor{
		source:     source,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

// Run subscribes, backfills recent history and then forwards live tasks until
// ctx is done. A broken subscription is re-established and the blocks missed
// in between are scanned again.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Starting to monitor for new tasks", "contract", m.config.Contract.Hex())

	m.Heartbeat(ctx)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", m.config.HeartbeatInterval), func() { m.Heartbeat(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	sink := make(chan ethtypes.Log, 64)
	sub, err := m.subscribe(ctx, sink)
	if err != nil {
		return err
	}
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	if err := m.backfill(ctx); err != nil {
		m.logger.Error("Backfill scan failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Event monitor stopped")
			return nil

		case log := <-sink:
			m.handle(ctx, log, sourceLive)

		case err := <-sub.Err():
			if ctx.Err() != nil {
				return nil
			}
			metrics.SubscriptionReconnectsTotal.Inc()
			m.logger.Warn("NewTaskCreated subscription dropped, resubscribing", "error", err)
			sub.Unsubscribe()
			sub = nil

			newSub, err := m.subscribe(ctx, sink)
			if err != nil {
				if ctx.Err() != nil {
					m.logger.Info("Event monitor stopped while resubscribing")
					return nil
				}
				return err
			}
			sub = newSub
			if err := m.catchUp(ctx); err != nil {
				m.logger.Error("Catch-up scan failed", "from", m.lastBlock, "error", err)
			}
		}
	}
}

// Heartbeat logs the contract's latest task number and the chain head.
func (m *Monitor) Heartbeat(ctx context.Context) {
	m.logger.Info("Still listening for events...")

	if block, err := m.source.BlockNumber(ctx); err != nil {
		m.logger.Error("Error checking current block number", "error", err)
	} else {
		metrics.CurrentBlock.Set(float64(block))
		m.logger.Infof("Current block number: %d", block)
	}

	num, err := m.source.LatestTaskNum(ctx)
	if err != nil {
		m.logger.Error("Error checking latest task number", "error", err)
		return
	}
	metrics.LatestTaskNum.Set(float64(num))
	m.logger.Infof("Latest task number: %d", num)
}

func (m *Monitor) subscribe(ctx context.Context, sink chan<- ethtypes.Log) (event.Subscription, error) {
	sub, err := retry.Retry(ctx, func() (event.Subscription, error) {
		return m.source.SubscribeNewTasks(ctx, sink)
	}, m.config.SubscribeRetry, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to NewTaskCreated: %w", err)
	}
	return sub, nil
}

// backfill scans [head-BackfillBlocks, head] so tasks created shortly before
// startup are not missed.
func (m *Monitor) backfill(ctx context.Context) error {
	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}
	logs, err := m.source.FilterNewTasks(ctx, m.windowStart(head), head)
	if err != nil {
		return err
	}
	m.logger.Infof("Found %d past NewTaskCreated events", len(logs))
	for _, log := range logs {
		m.handle(ctx, log, sourceBackfill)
	}
	m.advance(head)
	return nil
}

// windowStart is head-BackfillBlocks clamped at genesis.
func (m *Monitor) windowStart(head uint64) uint64 {
	if head > m.config.BackfillBlocks {
		return head - m.config.BackfillBlocks
	}
	return 0
}

// catchUp rescans from the last block seen before the subscription dropped.
// With no block seen yet (the startup backfill failed) it falls back to the
// backfill window instead of scanning from genesis.
func (m *Monitor) catchUp(ctx context.Context) error {
	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}
	from := m.lastBlock
	if from == 0 {
		from = m.windowStart(head)
	}
	if head < from {
		return nil
	}
	logs, err := m.source.FilterNewTasks(ctx, from, head)
	if err != nil {
		return err
	}
	if len(logs) > 0 {
		m.logger.Infof("Recovered %d NewTaskCreated events after resubscribing", len(logs))
	}
	for _, log := range logs {
		m.handle(ctx, log, sourceCatchUp)
	}
	m.advance(head)
	return nil
}

func (m *Monitor) handle(ctx context.Context, log ethtypes.Log, source string) {
	if log.Removed {
		m.logger.Warn("Ignoring NewTaskCreated log removed by reorg", "txHash", log.TxHash.Hex(), "block", log.BlockNumber)
		return
	}
	m.advance(log.BlockNumber)

	task, err := chainio.ParseNewTaskCreated(log)
	if err != nil {
		if errors.Is(err, types.ErrMalformedNotification) {
			metrics.MalformedNotificationsTotal.Inc()
			m.logger.Warn("New task event received, but some data is undefined", "txHash", log.TxHash.Hex(), "block", log.BlockNumber, "error", err)
			return
		}
		m.logger.Error("Failed to decode NewTaskCreated log", "error", err)
		return
	}

	metrics.TasksDetectedTotal.WithLabelValues(source).Inc()
	if source == sourceBackfill {
		m.logger.Infof("Past event - Task Index: %d, Name: %s", task.Index, task.Name)
	}
	m.dispatcher.Dispatch(ctx, *task)
}

func (m *Monitor) advance(block uint64) {
	if block > m.lastBlock {
		m.lastBlock = block
	}
}
