package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/env"
)

type Config struct {
	devMode bool
	logDir  string

	// Chain
	rpcURL                   string
	serviceManagerAddress    string
	delegationManagerAddress string
	stakeRegistryAddress     string
	avsDirectoryAddress      string
	logPollInterval          time.Duration

	// Signing identity
	privateKey       string
	keystorePath     string
	keystorePassword string

	// Evaluation service
	evaluatorURL             string
	evaluatorStartTimeout    time.Duration
	evaluatorStatusTimeout   time.Duration
	evaluatorInsecureTLS     bool
	maxPolls                 int
	pollInterval             time.Duration
	maxConsecutivePollErrors int

	// Pipeline
	maxConcurrentTasks int
	heartbeatInterval  time.Duration
	backfillBlocks     uint64

	// Response store
	redisURL    string
	responseTTL time.Duration

	// Status API
	apiPort int
}

var cfg Config

// Init loads .env (if present), then the optional YAML file, then reads the
// environment. Variables already set in the environment always win.
func Init(configFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	if configFile != "" {
		if err := loadYAML(configFile); err != nil {
			return err
		}
	}

	cfg = Config{
		devMode:                  env.GetEnvBool("DEV_MODE", false),
		logDir:                   env.GetEnvString("LOG_DIR", "data"),
		rpcURL:                   env.GetEnvString("RPC_URL", ""),
		serviceManagerAddress:    env.GetEnvString("CONTRACT_ADDRESS", ""),
		delegationManagerAddress: env.GetEnvString("DELEGATION_MANAGER_ADDRESS", ""),
		stakeRegistryAddress:     env.GetEnvString("STAKE_REGISTRY_ADDRESS", ""),
		avsDirectoryAddress:      env.GetEnvString("AVS_DIRECTORY_ADDRESS", ""),
		logPollInterval:          env.GetEnvDuration("LOG_POLL_INTERVAL", 12*time.Second),
		privateKey:               env.GetEnvString("PRIVATE_KEY", ""),
		keystorePath:             env.GetEnvString("KEYSTORE_PATH", ""),
		keystorePassword:         os.Getenv("KEYSTORE_PASSWORD"),
		evaluatorURL:             strings.TrimRight(env.GetEnvString("EVALUATOR_URL", ""), "/"),
		evaluatorStartTimeout:    env.GetEnvDuration("EVALUATOR_START_TIMEOUT", 30*time.Second),
		evaluatorStatusTimeout:   env.GetEnvDuration("EVALUATOR_STATUS_TIMEOUT", 10*time.Second),
		evaluatorInsecureTLS:     env.GetEnvBool("EVALUATOR_INSECURE_TLS", true),
		maxPolls:                 env.GetEnvInt("MAX_POLLS", 180),
		pollInterval:             env.GetEnvDuration("POLL_INTERVAL", 10*time.Second),
		maxConsecutivePollErrors: env.GetEnvInt("MAX_CONSECUTIVE_POLL_ERRORS", 10),
		maxConcurrentTasks:       env.GetEnvInt("MAX_CONCURRENT_TASKS", 8),
		heartbeatInterval:        env.GetEnvDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		backfillBlocks:           env.GetEnvUint64("BACKFILL_BLOCKS", 1000),
		redisURL:                 env.GetEnvString("REDIS_URL", ""),
		responseTTL:              env.GetEnvDuration("RESPONSE_TTL", 720*time.Hour),
		apiPort:                  env.GetEnvInt("OPERATOR_API_PORT", 9011),
	}

	return Validate()
}

// loadYAML exports every top-level key of the file as an upper-cased
// environment variable unless that variable is already set.
func loadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	values := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	for key, value := range values {
		name := strings.ToUpper(key)
		if env.IsSet(name) || value == nil {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("error applying config key %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the loaded configuration and returns the first problem as
// a *types.ConfigurationError.
func Validate() error {
	if !env.IsValidURL(cfg.rpcURL, "http", "https", "ws", "wss") {
		return &types.ConfigurationError{Field: "RPC_URL", Reason: "must be an http(s) or ws(s) URL"}
	}
	if !env.IsValidURL(cfg.evaluatorURL) {
		return &types.ConfigurationError{Field: "EVALUATOR_URL", Reason: "must be an http(s) URL"}
	}
	if cfg.privateKey == "" && cfg.keystorePath == "" {
		return &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: "PRIVATE_KEY or KEYSTORE_PATH is required"}
	}
	if cfg.privateKey != "" && !env.IsValidPrivateKey(cfg.privateKey) {
		return &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: "must be 32 bytes of hex"}
	}
	for _, a := range []struct{ field, value string }{
		{"CONTRACT_ADDRESS", cfg.serviceManagerAddress},
		{"DELEGATION_MANAGER_ADDRESS", cfg.delegationManagerAddress},
		{"STAKE_REGISTRY_ADDRESS", cfg.stakeRegistryAddress},
		{"AVS_DIRECTORY_ADDRESS", cfg.avsDirectoryAddress},
	} {
		if !env.IsValidEthAddress(a.value) {
			return &types.ConfigurationError{Field: a.field, Reason: "must be a 0x-prefixed address"}
		}
	}
	if cfg.redisURL != "" && !env.IsValidURL(cfg.redisURL, "redis", "rediss") {
		return &types.ConfigurationError{Field: "REDIS_URL", Reason: "must be a redis:// or rediss:// URL"}
	}
	if cfg.maxPolls <= 0 {
		return &types.ConfigurationError{Field: "MAX_POLLS", Reason: "must be positive"}
	}
	if cfg.maxConcurrentTasks <= 0 {
		return &types.ConfigurationError{Field: "MAX_CONCURRENT_TASKS", Reason: "must be positive"}
	}
	if cfg.apiPort < 0 || cfg.apiPort > 65535 {
		return &types.ConfigurationError{Field: "OPERATOR_API_PORT", Reason: "must be a TCP port"}
	}
	return nil
}

func IsDevMode() bool { return cfg.devMode }

func GetLogDir() string { return cfg.logDir }

func GetRPCURL() string { return cfg.rpcURL }

func GetServiceManagerAddress() common.Address {
	return common.HexToAddress(cfg.serviceManagerAddress)
}

func GetDelegationManagerAddress() common.Address {
	return common.HexToAddress(cfg.delegationManagerAddress)
}

func GetStakeRegistryAddress() common.Address {
	return common.HexToAddress(cfg.stakeRegistryAddress)
}

func GetAVSDirectoryAddress() common.Address {
	return common.HexToAddress(cfg.avsDirectoryAddress)
}

func GetLogPollInterval() time.Duration { return cfg.logPollInterval }

func GetEvaluatorURL() string { return cfg.evaluatorURL }

func GetEvaluatorStartTimeout() time.Duration { return cfg.evaluatorStartTimeout }

func GetEvaluatorStatusTimeout() time.Duration { return cfg.evaluatorStatusTimeout }

func IsEvaluatorInsecureTLS() bool { return cfg.evaluatorInsecureTLS }

func GetMaxPolls() int { return cfg.maxPolls }

func GetPollInterval() time.Duration { return cfg.pollInterval }

func GetMaxConsecutivePollErrors() int { return cfg.maxConsecutivePollErrors }

func GetMaxConcurrentTasks() int { return cfg.maxConcurrentTasks }

func GetHeartbeatInterval() time.Duration { return cfg.heartbeatInterval }

func GetBackfillBlocks() uint64 { return cfg.backfillBlocks }

func GetRedisURL() string { return cfg.redisURL }

func GetResponseTTL() time.Duration { return cfg.responseTTL }

func GetAPIPort() int { return cfg.apiPort }
