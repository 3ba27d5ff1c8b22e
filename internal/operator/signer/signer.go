package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/cryptography"
)

const (
	MessageLabel    = "MMLU subset"
	MaxBasisPoints  = 10000
	basisPointScale = 10000
)

// BasisPoints converts an accuracy in [0,1] to floor(accuracy * 10000).
// Out of range inputs are clamped to [0, 10000]; NaN maps to 0.
func BasisPoints(accuracy float64) uint64 {
	if math.IsNaN(accuracy) || accuracy <= 0 {
		return 0
	}
	bp := math.Floor(accuracy * basisPointScale)
	if bp >= MaxBasisPoints {
		return MaxBasisPoints
	}
	return uint64(bp)
}

// Percentage is the ledger representation of a basis point value, e.g. 8734 -> 87.34.
func Percentage(bp uint64) float64 {
	return float64(bp) / 100
}

// CommitmentMessage is the canonical text an operator commits to for a task.
func CommitmentMessage(subset string, bp uint64) string {
	return fmt.Sprintf("%s: %s, Accuracy: %d", MessageLabel, subset, bp)
}

// CommitmentHash is keccak256 of the packed message string, the value that gets personal-signed.
func CommitmentHash(subset string, bp uint64) []byte {
	return crypto.Keccak256([]byte(CommitmentMessage(subset, bp)))
}

// CommitmentSigner signs task commitments with the operator key. It holds no
// mutable state and is safe for concurrent use.
type CommitmentSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewCommitmentSigner(key *ecdsa.PrivateKey) (*CommitmentSigner, error) {
	if key == nil {
		return nil, errors.New("operator key is required")
	}
	return &CommitmentSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *CommitmentSigner) Address() common.Address {
	return s.address
}

// Sign returns the EIP-191 signature over CommitmentHash(subset, bp).
func (s *CommitmentSigner) Sign(subset string, bp uint64) ([]byte, error) {
	sig, err := cryptography.SignPersonal(CommitmentHash(subset, bp), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign commitment: %w", err)
	}
	return sig, nil
}

// Attest builds the attestation for a completed evaluation of task.
func (s *CommitmentSigner) Attest(task types.Task, accuracy float64) (*types.Attestation, error) {
	bp := BasisPoints(accuracy)
	sig, err := s.Sign(task.Name, bp)
	if err != nil {
		return nil, err
	}
	return &types.Attestation{
		TaskIndex:           task.Index,
		Subset:              task.Name,
		AccuracyBasisPoints: bp,
		Message:             CommitmentMessage(task.Name, bp),
		Signature:           sig,
	}, nil
}

// Verify reports whether sig is operator's signature over the commitment for (subset, bp).
func Verify(subset string, bp uint64, sig []byte, operator common.Address) (bool, error) {
	return cryptography.VerifyPersonal(CommitmentHash(subset, bp), sig, operator)
}
