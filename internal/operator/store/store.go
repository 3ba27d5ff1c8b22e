package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultResponseTTL is how long a recorded response is remembered.
const DefaultResponseTTL = 30 * 24 * time.Hour

// Response is what the operator remembers about a submitted task.
type Response struct {
	TaskIndex           uint32      `json:"task_index"`
	Subset              string      `json:"subset"`
	AccuracyBasisPoints uint64      `json:"accuracy_bp"`
	TxHash              common.Hash `json:"tx_hash"`
	RecordedAt          time.Time   `json:"recorded_at"`
}

// ResponseStore remembers which tasks this operator already answered so a
// restart does not evaluate and submit them again.
type ResponseStore interface {
	MarkResponded(ctx context.Context, resp Response) error
	HasResponded(ctx context.Context, taskIndex uint32) (bool, error)
	Close() error
}
