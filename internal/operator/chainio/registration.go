package chainio

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/mmlu-operator/pkg/cryptography"
)

const registrationSignatureTTL = time.Hour

// IsOperator reports whether the key is registered with the DelegationManager.
func (c *Client) IsOperator(ctx context.Context) (bool, error) {
	return c.callBool(ctx, c.delegationManager, "isOperator", c.address)
}

// IsRegisteredWithAVS reports whether the stake registry knows the operator.
func (c *Client) IsRegisteredWithAVS(ctx context.Context) (bool, error) {
	return c.callBool(ctx, c.stakeRegistry, "operatorRegistered", c.address)
}

// RegisterAsOperator registers the key with the DelegationManager, using itself
// as earnings receiver, no delegation approver and no opt-out window.
func (c *Client) RegisterAsOperator(ctx context.Context) error {
	details := operatorDetailsTuple{
		EarningsReceiver:         c.address,
		DelegationApprover:       common.Address{},
		StakerOptOutWindowBlocks: 0,
	}
	if _, err := c.transact(ctx, c.delegationManager, "registerAsOperator", details, ""); err != nil {
		return err
	}
	c.logger.Info("Operator registered on EigenLayer", "operator", c.address.Hex())
	return nil
}

// RegisterWithAVS signs the AVS registration digest for a random salt and
// registers the operator with the stake registry.
func (c *Client) RegisterWithAVS(ctx context.Context) error {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	expiry := big.NewInt(time.Now().Add(registrationSignatureTTL).Unix())

	var out []interface{}
	err := c.avsDirectory.Call(&bind.CallOpts{Context: ctx}, &out,
		"calculateOperatorAVSRegistrationDigestHash", c.address, c.serviceManagerAddr, salt, expiry)
	if err != nil {
		return fmt.Errorf("failed to calculate registration digest: %w", err)
	}
	if len(out) != 1 {
		return fmt.Errorf("calculateOperatorAVSRegistrationDigestHash returned %d values", len(out))
	}
	digest, ok := out[0].([32]byte)
	if !ok {
		return fmt.Errorf("calculateOperatorAVSRegistrationDigestHash returned %T", out[0])
	}

	signature, err := cryptography.SignDigest(digest[:], c.key)
	if err != nil {
		return err
	}

	operatorSignature := signatureWithSaltAndExpiry{Signature: signature, Salt: salt, Expiry: expiry}
	if _, err := c.transact(ctx, c.stakeRegistry, "registerOperatorWithSignature", c.address, operatorSignature); err != nil {
		return err
	}
	c.logger.Info("Operator registered on AVS", "operator", c.address.Hex(), "avs", c.serviceManagerAddr.Hex())
	return nil
}

// Register runs both registration steps, skipping any that are already done.
func (c *Client) Register(ctx context.Context) error {
	isOperator, err := c.IsOperator(ctx)
	if err != nil {
		c.logger.Warn("Could not check EigenLayer operator status, attempting registration", "error", err)
	}
	if isOperator {
		c.logger.Info("Operator already registered on EigenLayer", "operator", c.address.Hex())
	} else if err := c.RegisterAsOperator(ctx); err != nil {
		return fmt.Errorf("EigenLayer registration failed: %w", err)
	}

	registered, err := c.IsRegisteredWithAVS(ctx)
	if err != nil {
		c.logger.Warn("Could not check AVS registration status, attempting registration", "error", err)
	}
	if registered {
		c.logger.Info("Operator already registered on AVS", "operator", c.address.Hex())
		return nil
	}
	if err := c.RegisterWithAVS(ctx); err != nil {
		return fmt.Errorf("AVS registration failed: %w", err)
	}
	return nil
}

func (c *Client) callBool(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (bool, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return false, fmt.Errorf("%s call failed: %w", method, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%s returned %d values", method, len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}
