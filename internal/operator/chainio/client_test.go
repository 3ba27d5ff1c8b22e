package chainio

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/cryptography"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	key, err := cryptography.ParsePrivateKey(testPrivateKey)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), backend, Config{
		ServiceManagerAddress:    testContract,
		DelegationManagerAddress: common.HexToAddress("0x01"),
		StakeRegistryAddress:     common.HexToAddress("0x02"),
		AVSDirectoryAddress:      common.HexToAddress("0x03"),
		LogPollInterval:          5 * time.Millisecond,
	}, key, logging.NewNoOpLogger())
	require.NoError(t, err)
	return client
}

func TestClient_LatestTaskNum(t *testing.T) {
	backend := newFakeBackend()
	backend.handle(ServiceManagerABI, "latestTaskNum", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{uint32(12)}, nil
	})
	client := newTestClient(t, backend)

	num, err := client.LatestTaskNum(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(12), num)
}

func TestClient_HasResponded(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	backend.handle(ServiceManagerABI, "allTaskResponses", func(args []interface{}) ([]interface{}, error) {
		assert.Equal(t, client.Address(), args[0].(common.Address))
		if args[1].(uint32) == 5 {
			return []interface{}{[]byte{0x01, 0x02}}, nil
		}
		return []interface{}{[]byte{}}, nil
	})

	responded, err := client.HasResponded(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, responded)

	responded, err = client.HasResponded(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, responded)
}

func TestClient_RespondToTask_EncodesCall(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingNonce = 9
	client := newTestClient(t, backend)

	task := sampleTask(7)
	att := &types.Attestation{TaskIndex: 7, Subset: task.Name, AccuracyBasisPoints: 8734, Signature: make([]byte, 65)}

	receipt, err := client.RespondToTask(context.Background(), task, att)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)

	sent := backend.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(9), sent[0].Nonce())
	assert.Equal(t, testContract, *sent[0].To())

	method, err := ServiceManagerABI.MethodById(sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "respondToTask", method.Name)

	args, err := method.Inputs.Unpack(sent[0].Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, uint32(7), args[1].(uint32))
	assert.Equal(t, att.Signature, args[2].([]byte))
	assert.Equal(t, 0, big.NewInt(8734).Cmp(args[3].(*big.Int)))

	taskArg := *abi.ConvertType(args[0], new(respondTaskTuple)).(*respondTaskTuple)
	assert.Equal(t, "business_ethics", taskArg.Name)
	assert.Equal(t, uint32(42), taskArg.TaskCreatedBlock)
}

func TestClient_RespondToTask_RevertIsSubmissionError(t *testing.T) {
	backend := newFakeBackend()
	backend.revert = true
	client := newTestClient(t, backend)

	_, err := client.RespondToTask(context.Background(), sampleTask(1), &types.Attestation{Signature: make([]byte, 65)})

	var subErr *types.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, uint32(1), subErr.TaskIndex)
	assert.NotEqual(t, common.Hash{}, subErr.TxHash)
}

func TestNewClient_SyncsNonceUpFront(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingNonce = 7
	client := newTestClient(t, backend)

	assert.Equal(t, uint64(7), client.nonces.Current())
}

func TestClient_RespondToTask_SendFailureKeepsNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingNonce = 4
	backend.sendErr = errors.New("insufficient funds")
	client := newTestClient(t, backend)

	_, err := client.RespondToTask(context.Background(), sampleTask(1), &types.Attestation{Signature: make([]byte, 65)})
	var subErr *types.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, common.Hash{}, subErr.TxHash)
	assert.Equal(t, uint64(4), client.nonces.Current())

	backend.mu.Lock()
	backend.sendErr = nil
	backend.mu.Unlock()

	_, err = client.RespondToTask(context.Background(), sampleTask(1), &types.Attestation{Signature: make([]byte, 65)})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), backend.sentTxs()[0].Nonce())
}

func TestClient_RespondToTask_ConcurrentNoncesAreUnique(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.RespondToTask(context.Background(), sampleTask(uint32(i)), &types.Attestation{Signature: make([]byte, 65)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, tx := range backend.sentTxs() {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, 8)
}

func TestClient_FilterNewTasks(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	for i, block := range []uint64{10, 20, 30} {
		task := sampleTask(uint32(i))
		task.BlockNumber = block
		l, err := EncodeNewTaskCreatedLog(testContract, task)
		require.NoError(t, err)
		backend.addLog(l)
	}

	logs, err := client.FilterNewTasks(context.Background(), 15, 30)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestClient_SubscribeNewTasks_FallsBackToPolling(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := make(chan ethtypes.Log, 4)
	sub, err := client.SubscribeNewTasks(ctx, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	task := sampleTask(11)
	task.BlockNumber = 101
	l, err := EncodeNewTaskCreatedLog(testContract, task)
	require.NoError(t, err)
	backend.addLog(l)

	select {
	case got := <-sink:
		parsed, err := ParseNewTaskCreated(got)
		require.NoError(t, err)
		assert.Equal(t, uint32(11), parsed.Index)
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for polled log")
	}
}

func TestClient_RegisterWithAVS_SignsDigest(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	digest := [32]byte{0xde, 0xad, 0xbe, 0xef}
	backend.handle(AVSDirectoryABI, "calculateOperatorAVSRegistrationDigestHash", func(args []interface{}) ([]interface{}, error) {
		assert.Equal(t, client.Address(), args[0].(common.Address))
		assert.Equal(t, testContract, args[1].(common.Address))
		return []interface{}{digest}, nil
	})

	require.NoError(t, client.RegisterWithAVS(context.Background()))

	sent := backend.sentTxs()
	require.Len(t, sent, 1)
	method, err := StakeRegistryABI.MethodById(sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "registerOperatorWithSignature", method.Name)

	args, err := method.Inputs.Unpack(sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, client.Address(), args[0].(common.Address))
	sig := *abi.ConvertType(args[1], new(signatureWithSaltAndExpiry)).(*signatureWithSaltAndExpiry)
	assert.Len(t, sig.Signature, 65)
	assert.Greater(t, sig.Expiry.Int64(), time.Now().Unix())
}

func TestClient_Register_SkipsCompletedSteps(t *testing.T) {
	backend := newFakeBackend()
	backend.handle(DelegationManagerABI, "isOperator", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{true}, nil
	})
	backend.handle(StakeRegistryABI, "operatorRegistered", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{true}, nil
	})
	client := newTestClient(t, backend)

	require.NoError(t, client.Register(context.Background()))
	assert.Empty(t, backend.sentTxs())
}
