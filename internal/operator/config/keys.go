package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	sdkecdsa "github.com/Layr-Labs/eigensdk-go/crypto/ecdsa"
	"golang.org/x/term"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/cryptography"
)

// LoadOperatorKey returns the signing key from PRIVATE_KEY or, failing that,
// from the encrypted keystore at KEYSTORE_PATH. Without KEYSTORE_PASSWORD the
// password is read from the terminal.
func LoadOperatorKey() (*ecdsa.PrivateKey, error) {
	if cfg.privateKey != "" {
		key, err := cryptography.ParsePrivateKey(cfg.privateKey)
		if err != nil {
			return nil, &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: err.Error()}
		}
		return key, nil
	}
	if cfg.keystorePath == "" {
		return nil, &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: "PRIVATE_KEY or KEYSTORE_PATH is required"}
	}

	password := cfg.keystorePassword
	if password == "" {
		var err error
		password, err = passwordPrompt(fmt.Sprintf("Enter password for keystore %s: ", cfg.keystorePath))
		if err != nil {
			return nil, &types.ConfigurationError{Field: "KEYSTORE_PASSWORD", Reason: err.Error()}
		}
	}

	key, err := sdkecdsa.ReadKey(cfg.keystorePath, password)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "KEYSTORE_PATH", Reason: fmt.Sprintf("cannot decrypt keystore: %v", err)}
	}
	return key, nil
}

func passwordPrompt(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("KEYSTORE_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
