// Package config – keyring.go resolves secrets from the operating
// system's native keyring (Linux: Secret Service, macOS: Keychain,
// Windows: Credential Manager). The keyring is the last fallback after
// the config file and environment.
package config

import "github.com/zalando/go-keyring"

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "concierge"

	keyringGatewayKey = "gateway_api_key"
	keyringEngineKey  = "engine_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found or the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// resolveSecrets fills empty API keys from the OS keyring.
func resolveSecrets(cfg *Config) {
	if cfg.Gateway.APIKey == "" {
		cfg.Gateway.APIKey = GetKeyring(keyringGatewayKey)
	}
	if cfg.Engine.APIKey == "" {
		cfg.Engine.APIKey = GetKeyring(keyringEngineKey)
	}
}
