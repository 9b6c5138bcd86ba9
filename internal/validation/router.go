// Package validation decides whether extracted document fields need human
// review. The router is a pure function of its configuration and input.
package validation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

type flagRule struct {
	field  string
	values []string
	terms  []string
}

type conditionalRule struct {
	trigger string
	fields  []string
}

type thresholdRule struct {
	field string
	limit float64
}

// Router evaluates a fixed rule set. It holds no mutable state and is safe
// for concurrent use.
type Router struct {
	required     []string
	requiredWhen []conditionalRule
	thresholds   []thresholdRule
	flags        []flagRule
	requireData  bool
}

// New compiles cfg into a Router, returning a *ConfigError wrapping
// ErrInvalidConfig when a rule is malformed.
func New(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		required:    slices.Clone(cfg.RequiredFields),
		requireData: cfg.RequireData != nil && *cfg.RequireData,
	}

	for _, trigger := range slices.Sorted(maps.Keys(cfg.RequiredWhen)) {
		r.requiredWhen = append(r.requiredWhen, conditionalRule{trigger: trigger, fields: slices.Clone(cfg.RequiredWhen[trigger])})
	}

	for _, field := range slices.Sorted(maps.Keys(cfg.Thresholds)) {
		r.thresholds = append(r.thresholds, thresholdRule{field: field, limit: cfg.Thresholds[field]})
	}

	fields := slices.Concat(slices.Collect(maps.Keys(cfg.FlaggedValues)), slices.Collect(maps.Keys(cfg.FlaggedTerms)))
	slices.Sort(fields)
	for _, field := range slices.Compact(fields) {
		r.flags = append(r.flags, flagRule{
			field:  field,
			values: lower(cfg.FlaggedValues[field]),
			terms:  lower(cfg.FlaggedTerms[field]),
		})
	}

	return r, nil
}

// Evaluate runs every rule against data and returns the union of violation
// reasons. Required fields come first in configured order, then conditional
// requirements, thresholds and flags by field name. An empty result means the
// data may proceed without review.
func (r *Router) Evaluate(data map[string]any) []string {
	reasons := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(reason string) {
		if _, ok := seen[reason]; ok {
			return
		}
		seen[reason] = struct{}{}
		reasons = append(reasons, reason)
	}

	if r.requireData && len(data) == 0 {
		add("no extracted data")
	}

	for _, field := range r.required {
		if isEmpty(data[field]) {
			add("missing field: " + field)
		}
	}

	for _, rule := range r.requiredWhen {
		if isEmpty(data[rule.trigger]) {
			continue
		}
		for _, field := range rule.fields {
			if isEmpty(data[field]) {
				add("missing field: " + field)
			}
		}
	}

	for _, rule := range r.thresholds {
		v, ok := data[rule.field]
		if !ok || isEmpty(v) {
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			add(fmt.Sprintf("%s invalid number: %v", rule.field, v))
			continue
		}
		if n > rule.limit {
			add(rule.field + " exceeds threshold")
		}
	}

	for _, rule := range r.flags {
		v, ok := data[rule.field]
		if !ok || isEmpty(v) {
			continue
		}
		s := fmt.Sprint(v)
		if rule.matches(strings.ToLower(strings.TrimSpace(s))) {
			add(fmt.Sprintf("%s flagged: %s", rule.field, s))
		}
	}

	return reasons
}

func (f flagRule) matches(v string) bool {
	if slices.Contains(f.values, v) {
		return true
	}
	for _, term := range f.terms {
		if strings.Contains(v, term) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(n))
		return strconv.ParseFloat(cleaned, 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
