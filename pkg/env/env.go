package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Getters return the default when the key is unset, blank or unparsable.

func GetEnvString(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	return parse(key, defaultValue, strconv.ParseBool)
}

func GetEnvInt(key string, defaultValue int) int {
	return parse(key, defaultValue, strconv.Atoi)
}

func GetEnvUint64(key string, defaultValue uint64) uint64 {
	return parse(key, defaultValue, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return parse(key, defaultValue, time.ParseDuration)
}

// IsSet reports whether key holds a non-blank value.
func IsSet(key string) bool {
	_, ok := lookup(key)
	return ok
}

func lookup(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func parse[T any](key string, defaultValue T, fn func(string) (T, error)) T {
	value, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := fn(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
