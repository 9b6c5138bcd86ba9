package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/docket/internal/validation"
)

const (
	EnvEngineExtractionTimeout = "DOCKET_ENGINE_EXTRACTION_TIMEOUT"
	EnvEngineClaimTTL          = "DOCKET_ENGINE_CLAIM_TTL"
	EnvEngineRecoveryWorkers   = "DOCKET_ENGINE_RECOVERY_WORKERS"
	EnvEngineRulesFile         = "DOCKET_ENGINE_RULES_FILE"
)

// EngineConfig holds workflow execution settings and the validation rule set.
// Rules come from RulesFile when set, else the inline rules table, else the
// built-in defaults.
type EngineConfig struct {
	ExtractionTimeout string            `toml:"extraction_timeout"`
	ClaimTTL          string            `toml:"claim_ttl"`
	RecoveryWorkers   int               `toml:"recovery_workers"`
	RulesFile         string            `toml:"rules_file"`
	Rules             validation.Config `toml:"rules"`
}

// ExtractionTimeoutDuration returns ExtractionTimeout as a time.Duration.
func (c *EngineConfig) ExtractionTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExtractionTimeout)
	return d
}

// ClaimTTLDuration returns ClaimTTL as a time.Duration.
func (c *EngineConfig) ClaimTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.ClaimTTL)
	return d
}

// Router compiles the configured rule set.
func (c *EngineConfig) Router() (*validation.Router, error) {
	return validation.New(c.Rules)
}

// Finalize applies defaults, environment variable overrides, and validation.
// Malformed rules fail here so a bad rule set never reaches a record.
func (c *EngineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.loadRules(); err != nil {
		return err
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. A non-empty overlay rule set
// replaces the base rule set as a whole.
func (c *EngineConfig) Merge(overlay *EngineConfig) {
	if overlay.ExtractionTimeout != "" {
		c.ExtractionTimeout = overlay.ExtractionTimeout
	}
	if overlay.ClaimTTL != "" {
		c.ClaimTTL = overlay.ClaimTTL
	}
	if overlay.RecoveryWorkers != 0 {
		c.RecoveryWorkers = overlay.RecoveryWorkers
	}
	if overlay.RulesFile != "" {
		c.RulesFile = overlay.RulesFile
	}
	if !overlay.Rules.Empty() {
		c.Rules = overlay.Rules
	}
}

func (c *EngineConfig) loadDefaults() {
	if c.ExtractionTimeout == "" {
		c.ExtractionTimeout = "60s"
	}
	if c.ClaimTTL == "" {
		c.ClaimTTL = "5m"
	}
	if c.RecoveryWorkers == 0 {
		c.RecoveryWorkers = 4
	}
}

func (c *EngineConfig) loadEnv() {
	if v := os.Getenv(EnvEngineExtractionTimeout); v != "" {
		c.ExtractionTimeout = v
	}
	if v := os.Getenv(EnvEngineClaimTTL); v != "" {
		c.ClaimTTL = v
	}
	if v := os.Getenv(EnvEngineRecoveryWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecoveryWorkers = n
		}
	}
	if v := os.Getenv(EnvEngineRulesFile); v != "" {
		c.RulesFile = v
	}
}

func (c *EngineConfig) loadRules() error {
	if c.RulesFile != "" {
		rules, err := validation.LoadFile(c.RulesFile)
		if err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		c.Rules = rules
		return nil
	}
	if c.Rules.Empty() {
		c.Rules = validation.Defaults()
	}
	return nil
}

func (c *EngineConfig) validate() error {
	timeout, err := time.ParseDuration(c.ExtractionTimeout)
	if err != nil {
		return fmt.Errorf("invalid extraction_timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("extraction_timeout must be positive")
	}
	ttl, err := time.ParseDuration(c.ClaimTTL)
	if err != nil {
		return fmt.Errorf("invalid claim_ttl: %w", err)
	}
	if ttl <= timeout {
		return fmt.Errorf("claim_ttl (%s) must exceed extraction_timeout (%s)", ttl, timeout)
	}
	if c.RecoveryWorkers < 1 {
		return fmt.Errorf("recovery_workers must be positive")
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}
