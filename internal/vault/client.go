package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

var ErrSeedNotFound = errors.New("signer seed not found")

// Config holds vault connection settings
type Config struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Address    string `json:"address" mapstructure:"address"`
	Token      string `json:"token" mapstructure:"token"`
	MountPath  string `json:"mount_path" mapstructure:"mount_path"`   // KV v2 mount
	SecretPath string `json:"secret_path" mapstructure:"secret_path"` // path of the signer secret
	SeedField  string `json:"seed_field" mapstructure:"seed_field"`
	TLSEnabled bool   `json:"tls_enabled" mapstructure:"tls_enabled"`
	CACert     string `json:"ca_cert" mapstructure:"ca_cert"`
}

// Client wraps the HashiCorp Vault client. When vault is disabled it keeps
// secrets in memory, which is enough for development and tests.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	local map[string]string
}

// NewClient creates a new Vault client
func NewClient(cfg Config) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "dexbot/signer"
	}
	if cfg.SeedField == "" {
		cfg.SeedField = "seed"
	}
	c := &Client{config: cfg, local: make(map[string]string)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// LoadSignerSeed reads the encoded signer seed
func (c *Client) LoadSignerSeed(ctx context.Context) (string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()
		seed, ok := c.local[c.config.SeedField]
		if !ok || seed == "" {
			return "", ErrSeedNotFound
		}
		return seed, nil
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.dataPath())
	if err != nil {
		return "", fmt.Errorf("failed to read signer seed from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSeedNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid secret format")
	}
	seed := getString(data, c.config.SeedField)
	if seed == "" {
		return "", ErrSeedNotFound
	}
	return seed, nil
}

// StoreSignerSeed writes the encoded signer seed
func (c *Client) StoreSignerSeed(ctx context.Context, seed string) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.local[c.config.SeedField] = seed
		c.mu.Unlock()
		return nil
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{c.config.SeedField: seed},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.dataPath(), payload); err != nil {
		return fmt.Errorf("failed to store signer seed in vault: %w", err)
	}
	return nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

func (c *Client) dataPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
