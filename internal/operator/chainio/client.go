package chainio

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/eigensdk-go/signerv2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/trigg3rX/mmlu-operator/internal/operator/metrics"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const DefaultLogPollInterval = 12 * time.Second

// EthClient is the RPC surface used by Client. *ethclient.Client satisfies it.
type EthClient interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	ServiceManagerAddress    common.Address
	DelegationManagerAddress common.Address
	StakeRegistryAddress     common.Address
	AVSDirectoryAddress      common.Address
	// LogPollInterval is used when the endpoint cannot push log notifications.
	LogPollInterval time.Duration
}

// Client wraps the operator's view of the service manager and the
// EigenLayer core contracts.
type Client struct {
	eth      EthClient
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	signerFn bind.SignerFn
	nonces   *NonceManager
	logger   logging.Logger

	serviceManagerAddr common.Address
	serviceManager     *bind.BoundContract
	delegationManager  *bind.BoundContract
	avsDirectory       *bind.BoundContract
	stakeRegistry      *bind.BoundContract
	logPollInterval    time.Duration
}

// Dial connects to rpcURL and builds a Client for key.
func Dial(ctx context.Context, rpcURL string, cfg Config, key *ecdsa.PrivateKey, logger logging.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	client, err := NewClient(ctx, eth, cfg, key, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return client, nil
}

func NewClient(ctx context.Context, eth EthClient, cfg Config, key *ecdsa.PrivateKey, logger logging.Logger) (*Client, error) {
	if key == nil {
		return nil, errors.New("operator key is required")
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	signerFn, err := signerv2.PrivateKeySignerFn(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction signer: %w", err)
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = DefaultLogPollInterval
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	c := &Client{
		eth:                eth,
		key:                key,
		address:            address,
		chainID:            chainID,
		signerFn:           bind.SignerFn(signerFn),
		nonces:             NewNonceManager(eth, address, logger),
		logger:             logger,
		serviceManagerAddr: cfg.ServiceManagerAddress,
		serviceManager:     bind.NewBoundContract(cfg.ServiceManagerAddress, ServiceManagerABI, eth, eth, eth),
		delegationManager:  bind.NewBoundContract(cfg.DelegationManagerAddress, DelegationManagerABI, eth, eth, eth),
		avsDirectory:       bind.NewBoundContract(cfg.AVSDirectoryAddress, AVSDirectoryABI, eth, eth, eth),
		stakeRegistry:      bind.NewBoundContract(cfg.StakeRegistryAddress, StakeRegistryABI, eth, eth, eth),
		logPollInterval:    cfg.LogPollInterval,
	}

	if err := c.nonces.Initialize(ctx); err != nil {
		logger.Warn("Initial nonce sync failed, retrying on first submission", "operator", address.Hex(), "error", err)
	}
	return c, nil
}

func (c *Client) Address() common.Address { return c.address }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// LatestTaskNum reads the service manager's task counter.
func (c *Client) LatestTaskNum(ctx context.Context) (uint32, error) {
	var out []interface{}
	if err := c.serviceManager.Call(&bind.CallOpts{Context: ctx}, &out, "latestTaskNum"); err != nil {
		return 0, fmt.Errorf("latestTaskNum call failed: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("latestTaskNum returned %d values", len(out))
	}
	num, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("latestTaskNum returned %T", out[0])
	}
	return num, nil
}

// HasResponded reports whether this operator already has a response stored for taskIndex.
func (c *Client) HasResponded(ctx context.Context, taskIndex uint32) (bool, error) {
	var out []interface{}
	if err := c.serviceManager.Call(&bind.CallOpts{Context: ctx}, &out, "allTaskResponses", c.address, taskIndex); err != nil {
		return false, fmt.Errorf("allTaskResponses call failed: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("allTaskResponses returned %d values", len(out))
	}
	response, ok := out[0].([]byte)
	if !ok {
		return false, fmt.Errorf("allTaskResponses returned %T", out[0])
	}
	return len(response) > 0, nil
}

func (c *Client) newTaskQuery(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{c.serviceManagerAddr},
		Topics:    [][]common.Hash{{NewTaskCreatedTopic}},
	}
}

// FilterNewTasks returns NewTaskCreated logs in [from, to].
func (c *Client) FilterNewTasks(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, c.newTaskQuery(new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)))
	if err != nil {
		return nil, fmt.Errorf("failed to filter NewTaskCreated logs in [%d, %d]: %w", from, to, err)
	}
	return logs, nil
}

// SubscribeNewTasks streams NewTaskCreated logs into sink. Endpoints without
// notification support are polled every LogPollInterval instead.
func (c *Client) SubscribeNewTasks(ctx context.Context, sink chan<- ethtypes.Log) (event.Subscription, error) {
	sub, err := c.eth.SubscribeFilterLogs(ctx, c.newTaskQuery(nil, nil), sink)
	if err == nil {
		c.logger.Info("Subscribed to NewTaskCreated events", "contract", c.serviceManagerAddr.Hex())
		return sub, nil
	}
	if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, fmt.Errorf("failed to subscribe to NewTaskCreated events: %w", err)
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	c.logger.Info("RPC endpoint does not support subscriptions, polling for NewTaskCreated logs",
		"contract", c.serviceManagerAddr.Hex(), "interval", c.logPollInterval)
	return c.pollNewTasks(ctx, head+1, sink), nil
}

func (c *Client) pollNewTasks(ctx context.Context, next uint64, sink chan<- ethtypes.Log) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(c.logPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}

			head, err := c.eth.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("failed to get block number: %w", err)
			}
			if head < next {
				continue
			}
			logs, err := c.FilterNewTasks(ctx, next, head)
			if err != nil {
				return err
			}
			for _, l := range logs {
				select {
				case sink <- l:
				case <-quit:
					return nil
				case <-ctx.Done():
					return nil
				}
			}
			next = head + 1
		}
	})
}

func (c *Client) transactOpts(ctx context.Context, nonce uint64) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:    c.address,
		Nonce:   new(big.Int).SetUint64(nonce),
		Signer:  c.signerFn,
		Context: ctx,
	}
}

// transact sends one transaction through the nonce manager and waits for it
// to be mined. A reverted receipt is an error.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (*ethtypes.Receipt, error) {
	tx, err := c.nonces.Send(ctx, func(nonce uint64) (*ethtypes.Transaction, error) {
		return contract.Transact(c.transactOpts(ctx, nonce), method, params...)
	})
	if err != nil {
		metrics.TransactionsSentTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	c.logger.Debug("Transaction sent", "method", method, "txHash", tx.Hash().Hex(), "nonce", tx.Nonce())

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		metrics.TransactionsSentTotal.WithLabelValues("failed").Inc()
		return nil, &txError{hash: tx.Hash(), err: fmt.Errorf("failed waiting for %s receipt: %w", method, err)}
	}
	metrics.GasUsedTotal.Add(float64(receipt.GasUsed))
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		metrics.TransactionsSentTotal.WithLabelValues("reverted").Inc()
		return receipt, &txError{hash: tx.Hash(), err: fmt.Errorf("%s reverted in block %d", method, receipt.BlockNumber.Uint64())}
	}
	metrics.TransactionsSentTotal.WithLabelValues("success").Inc()
	return receipt, nil
}

// txError carries the hash of a transaction that was broadcast but did not succeed.
type txError struct {
	hash common.Hash
	err  error
}

func (e *txError) Error() string { return e.err.Error() }
func (e *txError) Unwrap() error { return e.err }

// RespondToTask submits the signed accuracy for task and waits for finalization.
// Every failure is a *types.SubmissionError.
func (c *Client) RespondToTask(ctx context.Context, task types.Task, att *types.Attestation) (*ethtypes.Receipt, error) {
	receipt, err := c.transact(ctx, c.serviceManager, "respondToTask",
		respondTaskTuple{Name: task.Name, TaskCreatedBlock: task.TaskCreatedBlock},
		task.Index,
		att.Signature,
		new(big.Int).SetUint64(att.AccuracyBasisPoints),
	)
	if err != nil {
		subErr := &types.SubmissionError{TaskIndex: task.Index, Err: err}
		var te *txError
		if errors.As(err, &te) {
			subErr.TxHash = te.hash
		}
		return receipt, subErr
	}
	return receipt, nil
}

// Close releases the RPC connection when the client owns an *ethclient.Client.
func (c *Client) Close() {
	if closer, ok := c.eth.(interface{ Close() }); ok {
		closer.Close()
	}
}
