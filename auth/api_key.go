package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

// APIKeyStrategy compares a configured key with the value a locator
// expression extracts from the request, for example
// "=request.headers.Authorization" or "=request.params.token". Without a
// locator the key is read from the X-API-Key header, matched case-insensitively.
type APIKeyStrategy struct {
	key       string
	locator   string
	evaluator core.Evaluator
}

func NewAPIKeyStrategy(key, locator string, evaluator core.Evaluator) (*APIKeyStrategy, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("auth: api key is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("auth: evaluator is required")
	}
	locator = strings.TrimSpace(locator)
	return &APIKeyStrategy{key: key, locator: locator, evaluator: evaluator}, nil
}

func (s *APIKeyStrategy) Kind() Kind { return KindAPIKey }

func (s *APIKeyStrategy) Verify(_ context.Context, req Request) error {
	actual := headerValue(req.Headers, defaultAPIKeyHeader)
	if s.locator != "" {
		located, err := s.evaluator.Evaluate(s.locator, req.View)
		if err != nil {
			return fmt.Errorf("auth: api key locator failed: %w", err)
		}
		actual, _ = located.(string)
	}
	if strings.TrimSpace(actual) == "" {
		return fmt.Errorf("auth: api key is missing")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(actual)), []byte(s.key)) != 1 {
		return fmt.Errorf("auth: api key mismatch")
	}
	return nil
}
