package chainio

import (
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

// ParseNewTaskCreated decodes a NewTaskCreated log. Any decoding problem is
// reported as types.ErrMalformedNotification.
func ParseNewTaskCreated(log ethtypes.Log) (*types.Task, error) {
	if len(log.Topics) < 2 {
		return nil, types.MalformedNotification("log %s has %d topics, want 2", log.TxHash.Hex(), len(log.Topics))
	}
	if log.Topics[0] != NewTaskCreatedTopic {
		return nil, types.MalformedNotification("unexpected event signature %s", log.Topics[0].Hex())
	}
	if len(log.Data) == 0 {
		return nil, types.MalformedNotification("log %s has no task payload", log.TxHash.Hex())
	}

	index := log.Topics[1].Big()
	if !index.IsUint64() || index.Uint64() > uint64(^uint32(0)) {
		return nil, types.MalformedNotification("task index %s out of range", index)
	}

	var decoded newTaskCreatedData
	if err := ServiceManagerABI.UnpackIntoInterface(&decoded, "NewTaskCreated", log.Data); err != nil {
		return nil, types.MalformedNotification("failed to unpack task payload: %v", err)
	}

	prompts := make([]types.Prompt, 0, len(decoded.Task.Prompts))
	for _, p := range decoded.Task.Prompts {
		prompts = append(prompts, types.Prompt{Question: p.Question, Choices: p.Choices})
	}

	return &types.Task{
		Index:            uint32(index.Uint64()),
		Name:             decoded.Task.Name,
		Prompts:          prompts,
		TaskCreatedBlock: decoded.Task.TaskCreatedBlock,
		BlockNumber:      log.BlockNumber,
		TxHash:           log.TxHash,
	}, nil
}
