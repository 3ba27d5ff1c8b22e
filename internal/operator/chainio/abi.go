package chainio

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const serviceManagerABIJSON = `[
  {
    "type": "event",
    "name": "NewTaskCreated",
    "anonymous": false,
    "inputs": [
      {"name": "taskIndex", "type": "uint32", "indexed": true},
      {"name": "task", "type": "tuple", "indexed": false, "components": [
        {"name": "name", "type": "string"},
        {"name": "prompts", "type": "tuple[]", "components": [
          {"name": "question", "type": "string"},
          {"name": "choices", "type": "string[]"}
        ]},
        {"name": "taskCreatedBlock", "type": "uint32"}
      ]}
    ]
  },
  {
    "type": "function",
    "name": "latestTaskNum",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint32"}]
  },
  {
    "type": "function",
    "name": "allTaskResponses",
    "stateMutability": "view",
    "inputs": [
      {"name": "operator", "type": "address"},
      {"name": "taskIndex", "type": "uint32"}
    ],
    "outputs": [{"name": "", "type": "bytes"}]
  },
  {
    "type": "function",
    "name": "respondToTask",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "task", "type": "tuple", "components": [
        {"name": "name", "type": "string"},
        {"name": "taskCreatedBlock", "type": "uint32"}
      ]},
      {"name": "referenceTaskIndex", "type": "uint32"},
      {"name": "signature", "type": "bytes"},
      {"name": "accuracy", "type": "uint256"}
    ],
    "outputs": []
  }
]`

const delegationManagerABIJSON = `[
  {
    "type": "function",
    "name": "isOperator",
    "stateMutability": "view",
    "inputs": [{"name": "operator", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "registerAsOperator",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "registeringOperatorDetails", "type": "tuple", "components": [
        {"name": "earningsReceiver", "type": "address"},
        {"name": "delegationApprover", "type": "address"},
        {"name": "stakerOptOutWindowBlocks", "type": "uint32"}
      ]},
      {"name": "metadataURI", "type": "string"}
    ],
    "outputs": []
  }
]`

const avsDirectoryABIJSON = `[
  {
    "type": "function",
    "name": "calculateOperatorAVSRegistrationDigestHash",
    "stateMutability": "view",
    "inputs": [
      {"name": "operator", "type": "address"},
      {"name": "avs", "type": "address"},
      {"name": "salt", "type": "bytes32"},
      {"name": "expiry", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bytes32"}]
  }
]`

const stakeRegistryABIJSON = `[
  {
    "type": "function",
    "name": "operatorRegistered",
    "stateMutability": "view",
    "inputs": [{"name": "operator", "type": "address"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "registerOperatorWithSignature",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "operator", "type": "address"},
      {"name": "operatorSignature", "type": "tuple", "components": [
        {"name": "signature", "type": "bytes"},
        {"name": "salt", "type": "bytes32"},
        {"name": "expiry", "type": "uint256"}
      ]}
    ],
    "outputs": []
  }
]`

var (
	ServiceManagerABI    = mustParseABI(serviceManagerABIJSON)
	DelegationManagerABI = mustParseABI(delegationManagerABIJSON)
	AVSDirectoryABI      = mustParseABI(avsDirectoryABIJSON)
	StakeRegistryABI     = mustParseABI(stakeRegistryABIJSON)

	// NewTaskCreatedTopic is topic[0] of every NewTaskCreated log.
	NewTaskCreatedTopic = ServiceManagerABI.Events["NewTaskCreated"].ID
)

// Tuple types. Field order and names must match the ABI components.

type promptTuple struct {
	Question string
	Choices  []string
}

type taskTuple struct {
	Name             string
	Prompts          []promptTuple
	TaskCreatedBlock uint32
}

type newTaskCreatedData struct {
	Task taskTuple
}

type respondTaskTuple struct {
	Name             string
	TaskCreatedBlock uint32
}

type operatorDetailsTuple struct {
	EarningsReceiver         common.Address
	DelegationApprover       common.Address
	StakerOptOutWindowBlocks uint32
}

type signatureWithSaltAndExpiry struct {
	Signature []byte
	Salt      [32]byte
	Expiry    *big.Int
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
