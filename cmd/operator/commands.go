package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/trigg3rX/mmlu-operator/internal/operator"
	"github.com/trigg3rX/mmlu-operator/internal/operator/chainio"
	"github.com/trigg3rX/mmlu-operator/internal/operator/config"
	"github.com/trigg3rX/mmlu-operator/internal/operator/signer"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const statusTimeout = 30 * time.Second

func StartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Monitor the service manager and answer new tasks",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "register",
				Usage: "register with EigenLayer and the AVS before starting (skips steps already done)",
			},
		},
		Action: startOperator,
	}
}

func RegisterCommand() *cli.Command {
	return &cli.Command{
		Name:   "register",
		Usage:  "Register the operator with EigenLayer and the AVS",
		Action: registerOperator,
	}
}

func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show registration state, chain head and latest task number",
		Action: operatorStatus,
	}
}

func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check an accuracy attestation signature offline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subset", Usage: "MMLU subset name", Required: true},
			&cli.Uint64Flag{Name: "accuracy", Usage: "accuracy in basis points", Required: true},
			&cli.StringFlag{Name: "signature", Usage: "0x-prefixed 65-byte signature", Required: true},
			&cli.StringFlag{Name: "address", Usage: "operator address", Required: true},
		},
		Action: verifyAttestation,
	}
}

func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Display version information",
		Action: displayVersion,
	}
}

// setup loads configuration, the logger and the operator key.
func setup(c *cli.Context, process logging.ProcessName) (logging.Logger, *ecdsa.PrivateKey, error) {
	if err := config.Init(c.String("config")); err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("Failed to initialize config: %v", err), 1)
	}

	logger, err := logging.NewZapLogger(logging.LoggerConfig{
		LogDir:        config.GetLogDir(),
		ProcessName:   process,
		IsDevelopment: config.IsDevMode(),
	})
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("Failed to initialize logger: %v", err), 1)
	}

	key, err := config.LoadOperatorKey()
	if err != nil {
		logging.Shutdown(logger)
		return nil, nil, cli.Exit(fmt.Sprintf("Failed to load operator key: %v", err), 1)
	}
	return logger, key, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func startOperator(c *cli.Context) error {
	logger, key, err := setup(c, logging.OperatorProcess)
	if err != nil {
		return err
	}
	defer logging.Shutdown(logger)

	ctx, stop := signalContext()
	defer stop()

	logger.Info("Starting MMLU operator ...", "version", version)
	op, err := operator.New(ctx, key, logger)
	if err != nil {
		logger.Error("Failed to initialise operator", "error", err)
		return cli.Exit(err.Error(), 1)
	}
	defer op.Close()

	if err := op.Run(ctx, c.Bool("register")); err != nil && ctx.Err() == nil {
		logger.Error("Operator stopped with error", "error", err)
		return cli.Exit(err.Error(), 1)
	}
	logger.Info("Operator shutdown complete")
	return nil
}

func dialChain(ctx context.Context, key *ecdsa.PrivateKey, logger logging.Logger) (*chainio.Client, error) {
	return chainio.Dial(ctx, config.GetRPCURL(), chainio.Config{
		ServiceManagerAddress:    config.GetServiceManagerAddress(),
		DelegationManagerAddress: config.GetDelegationManagerAddress(),
		StakeRegistryAddress:     config.GetStakeRegistryAddress(),
		AVSDirectoryAddress:      config.GetAVSDirectoryAddress(),
		LogPollInterval:          config.GetLogPollInterval(),
	}, key, logger)
}

func registerOperator(c *cli.Context) error {
	logger, key, err := setup(c, logging.CLIProcess)
	if err != nil {
		return err
	}
	defer logging.Shutdown(logger)

	ctx, stop := signalContext()
	defer stop()

	chain, err := dialChain(ctx, key, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer chain.Close()

	logger.Info("Registering operator...", "operator", chain.Address().Hex())
	if err := chain.Register(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("Error registering operator: %v", err), 1)
	}
	logger.Info("Operator registration complete")
	return nil
}

func operatorStatus(c *cli.Context) error {
	logger, key, err := setup(c, logging.CLIProcess)
	if err != nil {
		return err
	}
	defer logging.Shutdown(logger)

	ctx, cancel := context.WithTimeout(c.Context, statusTimeout)
	defer cancel()

	chain, err := dialChain(ctx, key, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer chain.Close()

	fmt.Printf("Operator:          %s\n", chain.Address().Hex())
	fmt.Printf("Chain ID:          %s\n", chain.ChainID())
	fmt.Printf("Service manager:   %s\n", config.GetServiceManagerAddress().Hex())

	if block, err := chain.BlockNumber(ctx); err == nil {
		fmt.Printf("Current block:     %d\n", block)
	} else {
		fmt.Printf("Current block:     error: %v\n", err)
	}
	if num, err := chain.LatestTaskNum(ctx); err == nil {
		fmt.Printf("Latest task:       %d\n", num)
	} else {
		fmt.Printf("Latest task:       error: %v\n", err)
	}
	if ok, err := chain.IsOperator(ctx); err == nil {
		fmt.Printf("EigenLayer:        %s\n", registered(ok))
	} else {
		fmt.Printf("EigenLayer:        error: %v\n", err)
	}
	if ok, err := chain.IsRegisteredWithAVS(ctx); err == nil {
		fmt.Printf("AVS:               %s\n", registered(ok))
	} else {
		fmt.Printf("AVS:               error: %v\n", err)
	}
	return nil
}

func registered(ok bool) string {
	if ok {
		return "registered"
	}
	return "not registered"
}

func verifyAttestation(c *cli.Context) error {
	if !common.IsHexAddress(c.String("address")) {
		return cli.Exit("address must be a hex address", 1)
	}
	sig, err := hexutil.Decode(c.String("signature"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid signature: %v", err), 1)
	}

	subset, bp := c.String("subset"), c.Uint64("accuracy")
	ok, err := signer.Verify(subset, bp, sig, common.HexToAddress(c.String("address")))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot verify signature: %v", err), 1)
	}

	fmt.Printf("Message:   %s\n", signer.CommitmentMessage(subset, bp))
	if !ok {
		return cli.Exit("Signature: INVALID", 2)
	}
	fmt.Println("Signature: valid")
	return nil
}

func displayVersion(c *cli.Context) error {
	fmt.Println("MMLU Operator")
	fmt.Printf("Version:      %s\n", version)
	fmt.Printf("Commit:       %s\n", commit)
	fmt.Printf("Go Version:   %s\n", runtime.Version())
	return nil
}
