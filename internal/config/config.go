// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GraphConfig holds Microsoft Graph credentials for the device-code flow.
type GraphConfig struct {
	TenantID       string   `yaml:"tenant_id"`
	ClientID       string   `yaml:"client_id"`
	Scopes         []string `yaml:"scopes"`
	TokenCacheFile string   `yaml:"token_cache_file"`
}

// Config holds all configuration for the mail-merge service.
type Config struct {
	Graph GraphConfig

	// Stores
	DatabaseURL string
	RedisURL    string

	// Pipeline
	MaxAttachmentMB int
	SendTimeout     time.Duration
	RunRetention    time.Duration

	// Attachment pool temp area
	TempDir         string
	JanitorMaxAge   time.Duration
	JanitorInterval time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Graph    GraphConfig `yaml:"graph"`
	Redis    struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Graph:           raw.Graph,
		DatabaseURL:     firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/mailmerge")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		MaxAttachmentMB: envOrDefaultInt("MAX_ATTACHMENT_MB", 20),
		SendTimeout:     envOrDefaultDuration("SEND_TIMEOUT", 15*time.Second),
		RunRetention:    envOrDefaultDuration("RUN_RETENTION", 24*time.Hour),
		TempDir:         envOrDefault("TEMP_DIR", os.TempDir()),
		JanitorMaxAge:   envOrDefaultDuration("JANITOR_MAX_AGE", time.Hour),
		JanitorInterval: envOrDefaultDuration("JANITOR_INTERVAL", 15*time.Minute),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	if cfg.Graph.TenantID == "" {
		cfg.Graph.TenantID = os.Getenv("GRAPH_TENANT_ID")
	}
	if cfg.Graph.ClientID == "" {
		cfg.Graph.ClientID = os.Getenv("GRAPH_CLIENT_ID")
	}
	if len(cfg.Graph.Scopes) == 0 {
		cfg.Graph.Scopes = []string{"Mail.Send", "User.Read"}
	}
	if cfg.Graph.TokenCacheFile == "" {
		cfg.Graph.TokenCacheFile = envOrDefault("TOKEN_CACHE_FILE", "token_cache.json")
	}

	if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" {
		return nil, fmt.Errorf("graph tenant_id and client_id must be configured — check config.yaml and environment variables")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
