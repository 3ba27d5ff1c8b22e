package env

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	ethAddressPattern = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
	privateKeyPattern = regexp.MustCompile("^(0x)?[0-9a-fA-F]{64}$")
)

func IsEmpty(value string) bool {
	return strings.TrimSpace(value) == ""
}

// Ethereum Address
func IsValidEthAddress(address string) bool {
	return ethAddressPattern.MatchString(address)
}

// ECDSA Private Key, with or without 0x prefix
func IsValidPrivateKey(privateKey string) bool {
	return privateKeyPattern.MatchString(privateKey)
}

// IsValidURL accepts absolute URLs whose scheme is one of the given schemes
// (http and https when none are given).
func IsValidURL(raw string, schemes ...string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
