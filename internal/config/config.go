// Package config loads a vault node's runtime configuration: the
// persisted config.json document (§6 of the spec this node implements)
// with VAULT_*-prefixed environment overrides, the same
// getEnv-with-fallback shape as the teacher's config.Load, generalized
// from three flat fields to the node's full typed surface.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// ContentFilter restricts which guilds/types a node will admit.
type ContentFilter struct {
	Types         []string `json:"types,omitempty"`
	AllowedGuilds []string `json:"allowedGuilds,omitempty"`
	BlockedGuilds []string `json:"blockedGuilds,omitempty"`
}

// Config is the node's full typed configuration surface, covering every
// recognized config.json key.
type Config struct {
	// Identity
	NodeID       string `json:"nodeId,omitempty"`
	PublicKey    string `json:"publicKey,omitempty"`
	OwnerAddress string `json:"ownerAddress,omitempty"`

	// Network endpoint
	Port    string `json:"port"`
	NodeURL string `json:"nodeUrl,omitempty"`

	// P2P peer bootstrap lists. Required (non-nil) per §6; the core only
	// ever sees these as a static candidate set fed to the node selector —
	// the P2P transport itself is an external collaborator (§1/§9).
	P2PBootstrapPeers []string `json:"p2pBootstrapPeers"`
	P2PRelayPeers     []string `json:"p2pRelayPeers"`

	// Sharding
	ShardCount int   `json:"shardCount"`
	NodeShards []int `json:"nodeShards,omitempty"`

	// Replication policy
	ReplicationFactor    int  `json:"replicationFactor"`
	ReplicationEnabled   bool `json:"replicationEnabled"`
	ReplicationTimeoutMs int  `json:"replicationTimeoutMs"`

	// Capacity
	MaxStorageMB  int64  `json:"maxStorageMB,omitempty"`
	MaxStorageGB  int64  `json:"maxStorageGB,omitempty"`
	MaxBlobSizeMB int64  `json:"maxBlobSizeMB"`
	DataDir       string `json:"dataDir"`

	// GC policy
	GCEnabled             bool   `json:"gcEnabled"`
	GCRetentionMode       string `json:"gcRetentionMode"`
	GCMaxStorageMB        int64  `json:"gcMaxStorageMB"`
	GCMaxBlobAgeDays      int    `json:"gcMaxBlobAgeDays"`
	GCMinFreeDiskMB       int64  `json:"gcMinFreeDiskMB"`
	GCReservedForPinnedMB int64  `json:"gcReservedForPinnedMB"`
	GCIntervalMinutes     int    `json:"gcIntervalMinutes"`

	// Cache and on-disk compression
	CacheSizeMB        int64 `json:"cacheSizeMB"`
	CompressionEnabled bool  `json:"compressionEnabled"`

	// Admission
	AllowedApps          []string `json:"allowedApps,omitempty"`
	RequireAppRegistry   bool     `json:"requireAppRegistry"`
	EnableBlockedContent bool     `json:"enableBlockedContent"`

	// Content filter
	ContentFilter ContentFilter `json:"contentFilter"`

	// Observability
	LogLevel       string `json:"logLevel"`
	MetricsEnabled bool   `json:"metricsEnabled"`

	// ServiceToken gates admin-only routes behind X-Service-Token, same as
	// the teacher's ServiceToken field; empty disables auth (dev mode).
	ServiceToken string `json:"-"`

	// Environment is the process environment ("production" | "development"
	// | "test"), read from VAULT_ENV rather than config.json — it's a
	// deploy-time fact about the process, not a persisted node setting.
	// Checked against the on-disk .vault-environment marker at blob-store
	// init (§4.4).
	Environment string `json:"-"`
}

// defaults returns the config a fresh node starts from before config.json
// and environment overrides are applied.
func defaults() Config {
	return Config{
		Port:                 "5000",
		DataDir:              "/data/vault",
		P2PBootstrapPeers:    []string{},
		P2PRelayPeers:        []string{},
		ShardCount:           1,
		ReplicationFactor:    3,
		ReplicationEnabled:   true,
		ReplicationTimeoutMs: 2000,
		MaxBlobSizeMB:        100,
		GCEnabled:            true,
		GCRetentionMode:      "hybrid",
		GCIntervalMinutes:    60,
		CacheSizeMB:          256,
		CompressionEnabled:   true,
		LogLevel:             "info",
		MetricsEnabled:       true,
		Environment:          "development",
	}
}

// recognizedKeys mirrors the §6 config.json table; any JSON key not in
// this set is reported (not rejected) via logger.Warn.
var recognizedKeys = map[string]bool{
	"nodeId": true, "publicKey": true, "ownerAddress": true,
	"port": true, "nodeUrl": true,
	"p2pBootstrapPeers": true, "p2pRelayPeers": true,
	"shardCount": true, "nodeShards": true,
	"replicationFactor": true, "replicationEnabled": true, "replicationTimeoutMs": true,
	"maxStorageMB": true, "maxStorageGB": true, "maxBlobSizeMB": true, "dataDir": true,
	"gcEnabled": true, "gcRetentionMode": true, "gcMaxStorageMB": true,
	"gcMaxBlobAgeDays": true, "gcMinFreeDiskMB": true, "gcReservedForPinnedMB": true,
	"gcIntervalMinutes": true,
	"cacheSizeMB":       true, "compressionEnabled": true,
	"allowedApps": true, "requireAppRegistry": true, "enableBlockedContent": true,
	"contentFilter": true,
	"logLevel":      true, "metricsEnabled": true,
}

// Load reads path (if present), warns on unrecognized keys, then applies
// VAULT_*-prefixed environment overrides on top, the same
// precedence order as the teacher's getEnv-with-fallback chain.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			var probe map[string]json.RawMessage
			if err := json.Unmarshal(raw, &probe); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			for key := range probe {
				if !recognizedKeys[key] {
					logger.Warn("config: ignoring unrecognized key", "key", key, "file", path)
				}
			}
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Port = getEnv("VAULT_PORT", cfg.Port)
	cfg.DataDir = getEnv("VAULT_DATA_DIR", cfg.DataDir)
	cfg.NodeURL = getEnv("VAULT_NODE_URL", cfg.NodeURL)
	cfg.ServiceToken = getEnv("VAULT_SERVICE_TOKEN", cfg.ServiceToken)
	cfg.LogLevel = getEnv("VAULT_LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = getEnv("VAULT_ENV", cfg.Environment)

	cfg.ShardCount = getEnvInt("VAULT_SHARD_COUNT", cfg.ShardCount)
	cfg.ReplicationFactor = getEnvInt("VAULT_REPLICATION_FACTOR", cfg.ReplicationFactor)
	cfg.ReplicationTimeoutMs = getEnvInt("VAULT_REPLICATION_TIMEOUT_MS", cfg.ReplicationTimeoutMs)
	cfg.GCIntervalMinutes = getEnvInt("VAULT_GC_INTERVAL_MINUTES", cfg.GCIntervalMinutes)

	cfg.ReplicationEnabled = getEnvBool("VAULT_REPLICATION_ENABLED", cfg.ReplicationEnabled)
	cfg.GCEnabled = getEnvBool("VAULT_GC_ENABLED", cfg.GCEnabled)
	cfg.CompressionEnabled = getEnvBool("VAULT_COMPRESSION_ENABLED", cfg.CompressionEnabled)
	cfg.RequireAppRegistry = getEnvBool("VAULT_REQUIRE_APP_REGISTRY", cfg.RequireAppRegistry)
	cfg.MetricsEnabled = getEnvBool("VAULT_METRICS_ENABLED", cfg.MetricsEnabled)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// MaxStorageBytes resolves the effective storage cap, preferring
// MaxStorageGB when both are set.
func (c *Config) MaxStorageBytes() int64 {
	if c.MaxStorageGB > 0 {
		return c.MaxStorageGB * 1024 * 1024 * 1024
	}
	return c.MaxStorageMB * 1024 * 1024
}

// MaxBlobSizeBytes resolves the per-blob size cap in bytes.
func (c *Config) MaxBlobSizeBytes() int64 { return c.MaxBlobSizeMB * 1024 * 1024 }

// CacheSizeBytes resolves the cache capacity in bytes.
func (c *Config) CacheSizeBytes() int64 { return c.CacheSizeMB * 1024 * 1024 }

// GCMaxStorageBytes resolves the GC size-mode cap in bytes.
func (c *Config) GCMaxStorageBytes() int64 { return c.GCMaxStorageMB * 1024 * 1024 }

// GCMaxBlobAgeMs resolves the GC time-mode cap in milliseconds.
func (c *Config) GCMaxBlobAgeMs() int64 { return int64(c.GCMaxBlobAgeDays) * 24 * 60 * 60 * 1000 }

// GCMinFreeDiskBytes resolves the GC min-free-disk threshold in bytes.
func (c *Config) GCMinFreeDiskBytes() int64 { return c.GCMinFreeDiskMB * 1024 * 1024 }

// GCReservedForPinnedBytes resolves the GC pinned-reservation in bytes.
func (c *Config) GCReservedForPinnedBytes() int64 { return c.GCReservedForPinnedMB * 1024 * 1024 }
