package chainio

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// fakeBackend is an in-memory EthClient. Calls are answered from per-selector
// handlers, sent transactions are recorded and mined immediately.
type fakeBackend struct {
	mu sync.Mutex

	chainID      *big.Int
	head         uint64
	pendingNonce uint64
	sendErr      error
	revert       bool

	calls map[[4]byte]func(args []interface{}) ([]byte, error)
	sent  []*ethtypes.Transaction
	logs  []ethtypes.Log
}

var _ EthClient = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID: big.NewInt(31337),
		head:    100,
		calls:   make(map[[4]byte]func(args []interface{}) ([]byte, error)),
	}
}

func (f *fakeBackend) handle(contractABI abi.ABI, method string, fn func(args []interface{}) ([]interface{}, error)) {
	m := contractABI.Methods[method]
	var selector [4]byte
	copy(selector[:], m.ID)
	f.calls[selector] = func(args []interface{}) ([]byte, error) {
		out, err := fn(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(out...)
	}
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(call.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	var selector [4]byte
	copy(selector[:], call.Data[:4])
	fn, ok := f.calls[selector]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	for _, contractABI := range []abi.ABI{ServiceManagerABI, DelegationManagerABI, AVSDirectoryABI, StakeRegistryABI} {
		if m, err := contractABI.MethodById(call.Data[:4]); err == nil {
			args, err := m.Inputs.Unpack(call.Data[4:])
			if err != nil {
				return nil, err
			}
			return fn(args)
		}
	}
	return fn(nil)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ethtypes.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 200_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.pendingNonce = tx.Nonce() + 1
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			status := ethtypes.ReceiptStatusSuccessful
			if f.revert {
				status = ethtypes.ReceiptStatusFailed
			}
			return &ethtypes.Receipt{
				Status:      status,
				TxHash:      txHash,
				GasUsed:     21_000,
				BlockNumber: new(big.Int).SetUint64(f.head),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ethtypes.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) addLog(l ethtypes.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	if l.BlockNumber > f.head {
		f.head = l.BlockNumber
	}
}

func (f *fakeBackend) sentTxs() []*ethtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ethtypes.Transaction(nil), f.sent...)
}
