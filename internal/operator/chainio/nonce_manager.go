package chainio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

// NonceSource is the part of the RPC client the nonce manager needs.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for one signing identity. Send holds the lock
// across allocation and broadcast so concurrent submissions cannot race.
type NonceManager struct {
	mu           sync.Mutex
	currentNonce uint64
	synced       bool
	lastSyncTime time.Time
	syncInterval time.Duration

	client  NonceSource
	address common.Address
	logger  logging.Logger
}

func NewNonceManager(client NonceSource, address common.Address, logger logging.Logger) *NonceManager {
	return &NonceManager{
		client:       client,
		address:      address,
		logger:       logger,
		syncInterval: 30 * time.Second,
	}
}

// Initialize sets up the initial nonce
func (nm *NonceManager) Initialize(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.syncWithBlockchain(ctx, false)
}

// Send allocates the next nonce and calls send with it while holding the lock.
// On failure the nonce is re-read from the chain so the gap is not kept.
func (nm *NonceManager) Send(ctx context.Context, send func(nonce uint64) (*ethtypes.Transaction, error)) (*ethtypes.Transaction, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.synced || time.Since(nm.lastSyncTime) > nm.syncInterval {
		if err := nm.syncWithBlockchain(ctx, false); err != nil {
			return nil, fmt.Errorf("failed to sync nonce with blockchain: %w", err)
		}
	}

	nonce := nm.currentNonce
	nm.logger.Debugf("Allocated nonce: %d", nonce)

	tx, err := send(nonce)
	if err != nil {
		if isNonceTooLowError(err) {
			nm.logger.Warnf("Nonce %d rejected as too low, resyncing", nonce)
		}
		if syncErr := nm.syncWithBlockchain(ctx, true); syncErr != nil {
			nm.logger.Errorf("Failed to resync nonce after send error: %v", syncErr)
			nm.synced = false
		}
		return nil, err
	}

	nm.currentNonce = nonce + 1
	return tx, nil
}

// Current returns the next nonce that will be allocated.
func (nm *NonceManager) Current() uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.currentNonce
}

// syncWithBlockchain reads the pending nonce. Without reset it only moves the
// local nonce forward.
func (nm *NonceManager) syncWithBlockchain(ctx context.Context, reset bool) error {
	pendingNonce, err := nm.client.PendingNonceAt(ctx, nm.address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}

	if reset || !nm.synced || pendingNonce > nm.currentNonce {
		if pendingNonce != nm.currentNonce {
			nm.logger.Infof("Synced nonce with blockchain: %d", pendingNonce)
		}
		nm.currentNonce = pendingNonce
	}
	nm.synced = true
	nm.lastSyncTime = time.Now()
	return nil
}

func isNonceTooLowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced")
}
