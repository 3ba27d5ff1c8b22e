package chainio

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
)

// EncodeNewTaskCreatedLog builds the log the service manager emits for task.
// It is the inverse of ParseNewTaskCreated.
func EncodeNewTaskCreatedLog(contract common.Address, task types.Task) (ethtypes.Log, error) {
	prompts := make([]promptTuple, 0, len(task.Prompts))
	for _, p := range task.Prompts {
		choices := p.Choices
		if choices == nil {
			choices = []string{}
		}
		prompts = append(prompts, promptTuple{Question: p.Question, Choices: choices})
	}

	data, err := ServiceManagerABI.Events["NewTaskCreated"].Inputs.NonIndexed().Pack(taskTuple{
		Name:             task.Name,
		Prompts:          prompts,
		TaskCreatedBlock: task.TaskCreatedBlock,
	})
	if err != nil {
		return ethtypes.Log{}, err
	}

	return ethtypes.Log{
		Address:     contract,
		Topics:      []common.Hash{NewTaskCreatedTopic, common.BigToHash(new(big.Int).SetUint64(uint64(task.Index)))},
		Data:        data,
		BlockNumber: task.BlockNumber,
		TxHash:      task.TxHash,
	}, nil
}
