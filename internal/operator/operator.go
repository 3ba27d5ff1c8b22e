package operator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trigg3rX/mmlu-operator/internal/operator/api"
	"github.com/trigg3rX/mmlu-operator/internal/operator/chainio"
	"github.com/trigg3rX/mmlu-operator/internal/operator/config"
	"github.com/trigg3rX/mmlu-operator/internal/operator/evaluation"
	"github.com/trigg3rX/mmlu-operator/internal/operator/events"
	"github.com/trigg3rX/mmlu-operator/internal/operator/metrics"
	"github.com/trigg3rX/mmlu-operator/internal/operator/signer"
	"github.com/trigg3rX/mmlu-operator/internal/operator/store"
	"github.com/trigg3rX/mmlu-operator/internal/operator/tasks"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const (
	drainTimeout          = 30 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// Operator owns every long-lived component of the node.
type Operator struct {
	logger     logging.Logger
	chain      *chainio.Client
	responses  store.ResponseStore
	evaluator  *evaluation.Client
	dispatcher *tasks.Dispatcher
	monitor    *events.Monitor
	api        *api.Server
}

// New wires the operator from the loaded configuration. config.Init must have
// been called.
func New(ctx context.Context, key *ecdsa.PrivateKey, logger logging.Logger) (*Operator, error) {
	chain, err := chainio.Dial(ctx, config.GetRPCURL(), chainio.Config{
		ServiceManagerAddress:    config.GetServiceManagerAddress(),
		DelegationManagerAddress: config.GetDelegationManagerAddress(),
		StakeRegistryAddress:     config.GetStakeRegistryAddress(),
		AVSDirectoryAddress:      config.GetAVSDirectoryAddress(),
		LogPollInterval:          config.GetLogPollInterval(),
	}, key, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("[1/5] Chain client initialised", "operator", chain.Address().Hex(), "chainID", chain.ChainID())

	responses, err := newResponseStore(ctx, chain, logger)
	if err != nil {
		chain.Close()
		return nil, err
	}
	logger.Info("[2/5] Response store initialised")

	evaluator, err := evaluation.NewClient(evaluation.ClientConfig{
		BaseURL:       config.GetEvaluatorURL(),
		StartTimeout:  config.GetEvaluatorStartTimeout(),
		StatusTimeout: config.GetEvaluatorStatusTimeout(),
		InsecureTLS:   config.IsEvaluatorInsecureTLS(),
	}, logger)
	if err != nil {
		_ = responses.Close()
		chain.Close()
		return nil, err
	}
	poller := evaluation.NewPoller(evaluator, evaluation.PollerConfig{
		MaxPolls:             config.GetMaxPolls(),
		PollInterval:         config.GetPollInterval(),
		MaxConsecutiveErrors: config.GetMaxConsecutivePollErrors(),
	}, logger)
	logger.Info("[3/5] Evaluation client initialised", "url", config.GetEvaluatorURL())

	commitmentSigner, err := signer.NewCommitmentSigner(key)
	if err != nil {
		evaluator.Close()
		_ = responses.Close()
		chain.Close()
		return nil, err
	}

	dispatcher := tasks.NewDispatcher(
		tasks.DispatcherConfig{MaxConcurrent: config.GetMaxConcurrentTasks()},
		poller,
		commitmentSigner,
		chain,
		responses,
		tasks.NewAccuracyLedger(),
		logger,
	)
	monitor := events.NewMonitor(chain, dispatcher, events.MonitorConfig{
		Contract:          config.GetServiceManagerAddress(),
		HeartbeatInterval: config.GetHeartbeatInterval(),
		BackfillBlocks:    config.GetBackfillBlocks(),
	}, logger)
	logger.Info("[4/5] Dispatcher and event monitor initialised", "maxConcurrentTasks", config.GetMaxConcurrentTasks())

	server := api.NewServer(config.GetAPIPort(), chain.Address(), dispatcher, dispatcher.Ledger(), logger)
	logger.Info("[5/5] Status API initialised", "port", config.GetAPIPort())

	return &Operator{
		logger:     logger,
		chain:      chain,
		responses:  responses,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		monitor:    monitor,
		api:        server,
	}, nil
}

func newResponseStore(ctx context.Context, chain *chainio.Client, logger logging.Logger) (store.ResponseStore, error) {
	if config.GetRedisURL() == "" {
		return store.NewMemoryStore(config.GetResponseTTL()), nil
	}
	s, err := store.NewRedisStore(ctx, store.RedisConfig{
		URL: config.GetRedisURL(),
		TTL: config.GetResponseTTL(),
	}, chain.Address(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise Redis response store: %w", err)
	}
	return s, nil
}

// Chain returns the operator's chain client.
func (o *Operator) Chain() *chainio.Client { return o.chain }

// Run optionally registers the operator, then monitors and answers tasks
// until ctx is done. A failed registration is logged and monitoring starts
// anyway. In-flight tasks are cancelled with ctx and drained before Run
// returns.
func (o *Operator) Run(ctx context.Context, register bool) error {
	if register {
		if err := o.chain.Register(ctx); err != nil {
			o.logger.Error("Error registering operator", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.StartSystemMetricsCollection(ctx, systemMetricsInterval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.api.Start(ctx); err != nil {
			o.logger.Error("Status API failed", "error", err)
		}
	}()

	o.logger.Info("Operator is running", "operator", o.chain.Address().Hex())
	runErr := o.monitor.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		o.logger.Error("Event monitor stopped with error", "error", runErr)
	}

	cancel()
	o.drain()
	wg.Wait()
	return runErr
}

func (o *Operator) drain() {
	done := make(chan struct{})
	go func() {
		o.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("All in-flight tasks finished")
	case <-time.After(drainTimeout):
		o.logger.Warn("Timed out waiting for in-flight tasks", "timeout", drainTimeout)
	}
}

// Close releases the evaluator connections, the store and the RPC connection.
func (o *Operator) Close() {
	o.evaluator.Close()
	if err := o.responses.Close(); err != nil {
		o.logger.Warn("Failed to close response store", "error", err)
	}
	o.chain.Close()
}
