// Package extraction turns raw document text into structured fields.
// The engine treats every Connector as a slow, fallible external service.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/JaimeStill/docket/pkg/formatting"
)

var (
	// ErrEmptyResult indicates the connector produced no fields.
	ErrEmptyResult = errors.New("extraction returned no fields")
	// ErrMalformed indicates the connector response was not a JSON object.
	ErrMalformed = errors.New("extraction response malformed")
)

// Connector extracts structured fields from document content.
// Implementations must honor ctx cancellation.
type Connector interface {
	Extract(ctx context.Context, content string) (map[string]any, error)
}

// Func adapts a function to Connector.
type Func func(ctx context.Context, content string) (map[string]any, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, content string) (map[string]any, error) {
	return f(ctx, content)
}

// Static returns a Connector that always yields a copy of fields.
func Static(fields map[string]any) Connector {
	return Func(func(ctx context.Context, _ string) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out, nil
	})
}

// ParseFields decodes a model response into a field map. Fields the model
// reports as null are dropped so they read as missing to validation.
func ParseFields(response string) (map[string]any, error) {
	fields, err := formatting.Parse[map[string]any](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}

	if len(fields) == 0 {
		return nil, ErrEmptyResult
	}
	return fields, nil
}
