// Package config provides secret retrieval for node identity key
// material and fabric credentials, and loads the YAML-encoded runtime
// configuration an embedder hands to pkg/runtime.Initialise.
//
// SecretManager is packages/go-core/config/vault.go unchanged in
// behaviour: same Vault client wrapper, same KV v2 unwrapping. Only
// its callers differ — here it serves node identity seeds and fabric
// credentials instead of generic application secrets.
package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 is a convenience wrapper that reads from a KV v2 backend and
// returns the inner "data" map, unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// NodeIdentitySeed reads the Ed25519 seed for nodeID's identity from a
// KV v2 secret at path (spec §4.2 "private keys MUST NOT be exposed");
// the seed is read once at startup and handed to identity.FromSeed,
// never logged or round-tripped through the fabric.
func (s *SecretManager) NodeIdentitySeed(path, nodeID string) (string, error) {
	data, err := s.GetKV2(path)
	if err != nil {
		return "", err
	}
	seed, ok := data[nodeID].(string)
	if !ok {
		return "", fmt.Errorf("no identity seed for node %q at %s", nodeID, path)
	}
	return seed, nil
}

// FabricCredentials reads the fabric's user/pass/token triple from a
// KV v2 secret at path, for runtime.FabricConfig.
func (s *SecretManager) FabricCredentials(path string) (user, pass, token string, err error) {
	data, err := s.GetKV2(path)
	if err != nil {
		return "", "", "", err
	}
	user, _ = data["user"].(string)
	pass, _ = data["pass"].(string)
	token, _ = data["token"].(string)
	return user, pass, token, nil
}
