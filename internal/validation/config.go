package validation

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config enumerates the recognized rule kinds.
//
//	required_fields  every listed field must be present and non-empty
//	required_when    when the key field is present, the listed fields are required
//	thresholds       numeric field must not exceed the limit
//	flagged_values   field equal (case-insensitive) to a listed value needs review
//	flagged_terms    field containing (case-insensitive) a listed term needs review
//	require_data     an empty extraction result needs review
type Config struct {
	RequiredFields []string            `toml:"required_fields" yaml:"required_fields" json:"required_fields"`
	RequiredWhen   map[string][]string `toml:"required_when" yaml:"required_when" json:"required_when"`
	Thresholds     map[string]float64  `toml:"thresholds" yaml:"thresholds" json:"thresholds"`
	FlaggedValues  map[string][]string `toml:"flagged_values" yaml:"flagged_values" json:"flagged_values"`
	FlaggedTerms   map[string][]string `toml:"flagged_terms" yaml:"flagged_terms" json:"flagged_terms"`
	RequireData    *bool               `toml:"require_data" yaml:"require_data" json:"require_data"`
}

// Defaults returns the invoice and support-ticket rule set.
func Defaults() Config {
	requireData := true
	return Config{
		RequiredWhen: map[string][]string{
			"amount": {"vendor", "invoice_id", "due_date"},
		},
		Thresholds: map[string]float64{
			"amount": 1000,
		},
		FlaggedValues: map[string][]string{
			"sentiment": {"irate"},
		},
		FlaggedTerms: map[string][]string{
			"topic": {"security", "vulnerability"},
		},
		RequireData: &requireData,
	}
}

// Empty reports whether no rule of any kind is configured.
func (c *Config) Empty() bool {
	return len(c.RequiredFields) == 0 &&
		len(c.RequiredWhen) == 0 &&
		len(c.Thresholds) == 0 &&
		len(c.FlaggedValues) == 0 &&
		len(c.FlaggedTerms) == 0 &&
		c.RequireData == nil
}

// Validate checks that every rule is well formed.
func (c *Config) Validate() error {
	for i, f := range c.RequiredFields {
		if strings.TrimSpace(f) == "" {
			return &ConfigError{Rule: "required_fields", Reason: fmt.Sprintf("entry %d is empty", i)}
		}
	}

	for trigger, fields := range c.RequiredWhen {
		if strings.TrimSpace(trigger) == "" {
			return &ConfigError{Rule: "required_when", Reason: "empty trigger field"}
		}
		if len(fields) == 0 {
			return &ConfigError{Rule: "required_when", Field: trigger, Reason: "no required fields listed"}
		}
		for _, f := range fields {
			if strings.TrimSpace(f) == "" {
				return &ConfigError{Rule: "required_when", Field: trigger, Reason: "empty field name"}
			}
		}
	}

	for field, limit := range c.Thresholds {
		if strings.TrimSpace(field) == "" {
			return &ConfigError{Rule: "thresholds", Reason: "empty field name"}
		}
		if math.IsNaN(limit) || math.IsInf(limit, 0) {
			return &ConfigError{Rule: "thresholds", Field: field, Reason: "limit must be finite"}
		}
	}

	if err := validateLists("flagged_values", c.FlaggedValues); err != nil {
		return err
	}
	return validateLists("flagged_terms", c.FlaggedTerms)
}

func validateLists(rule string, m map[string][]string) error {
	for field, values := range m {
		if strings.TrimSpace(field) == "" {
			return &ConfigError{Rule: rule, Reason: "empty field name"}
		}
		if len(values) == 0 {
			return &ConfigError{Rule: rule, Field: field, Reason: "no values listed"}
		}
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return &ConfigError{Rule: rule, Field: field, Reason: "empty value"}
			}
		}
	}
	return nil
}

// LoadFile reads a rule file. The format follows the extension:
// .toml, .yaml, or .yml. Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read rules file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	default:
		return cfg, &ConfigError{Rule: "rules_file", Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}

	return cfg, cfg.Validate()
}
