// Package auth authenticates inbound webhook deliveries. The supported
// variants are none, API key and HMAC signature.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

type Kind string

const (
	KindNone   Kind = "none"
	KindAPIKey Kind = "apikey"
	KindHMAC   Kind = "hmac"
)

const (
	defaultAPIKeyHeader = "X-API-Key"
	defaultHMACHeader   = "X-Signature"
)

// Request is the view of a delivery that strategies may inspect. View holds
// the decoded request variables used by API key locators.
type Request struct {
	Headers map[string]string
	RawBody []byte
	View    map[string]any
}

type Strategy interface {
	Kind() Kind
	Verify(ctx context.Context, req Request) error
}

// Config is the declarative form of a strategy, read from subscription
// properties under "inbound.auth".
type Config struct {
	Kind          Kind
	APIKey        string
	APIKeyLocator string
	HMACSecret    string
	HMACHeader    string
	HMACAlgorithm Algorithm
	HMACEncoding  string
	HMACPrefix    string
}

// ConfigFromProperties reads the "inbound.auth" block of a subscription.
func ConfigFromProperties(cfg core.SubscriptionConfig) Config {
	kind := Kind(strings.ToLower(cfg.Text("inbound.auth.type")))
	if kind == "" {
		kind = KindNone
	}
	// Older templates switch HMAC on with a flag next to the auth block.
	if kind == KindNone && strings.EqualFold(cfg.Text("inbound.shouldValidateHmac"), "enabled") {
		return Config{
			Kind:          KindHMAC,
			HMACSecret:    cfg.Text("inbound.hmacSecret"),
			HMACHeader:    cfg.Text("inbound.hmacHeader"),
			HMACAlgorithm: Algorithm(strings.ToLower(cfg.Text("inbound.hmacAlgorithm"))),
		}
	}
	return Config{
		Kind:          kind,
		APIKey:        cfg.Text("inbound.auth.apiKey"),
		APIKeyLocator: cfg.Text("inbound.auth.apiKeyLocator"),
		HMACSecret:    cfg.Text("inbound.auth.hmacSecret"),
		HMACHeader:    cfg.Text("inbound.auth.hmacHeader"),
		HMACAlgorithm: Algorithm(strings.ToLower(cfg.Text("inbound.auth.hmacAlgorithm"))),
		HMACEncoding:  strings.ToLower(cfg.Text("inbound.auth.hmacEncoding")),
		HMACPrefix:    cfg.Text("inbound.auth.hmacPrefix"),
	}
}

// NewStrategy builds the strategy described by cfg. Secrets are resolved once
// here so deliveries never touch the secret store.
func NewStrategy(ctx context.Context, cfg Config, evaluator core.Evaluator, secrets core.SecretResolver) (Strategy, error) {
	if secrets == nil {
		secrets = core.PassthroughSecretResolver{}
	}
	switch cfg.Kind {
	case KindNone, "":
		return NoneStrategy{}, nil
	case KindAPIKey:
		if evaluator == nil {
			return nil, fmt.Errorf("auth: api key locator requires an evaluator")
		}
		key, err := secrets.Resolve(ctx, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("auth: resolve api key: %w", err)
		}
		return NewAPIKeyStrategy(key, cfg.APIKeyLocator, evaluator)
	case KindHMAC:
		secret, err := secrets.Resolve(ctx, cfg.HMACSecret)
		if err != nil {
			return nil, fmt.Errorf("auth: resolve hmac secret: %w", err)
		}
		return NewHMACStrategy(HMACStrategyConfig{
			Secret:    secret,
			Header:    cfg.HMACHeader,
			Algorithm: cfg.HMACAlgorithm,
			Encoding:  cfg.HMACEncoding,
			Prefix:    cfg.HMACPrefix,
		})
	default:
		return nil, fmt.Errorf("auth: unsupported authentication type %q", cfg.Kind)
	}
}

type NoneStrategy struct{}

func (NoneStrategy) Kind() Kind { return KindNone }

func (NoneStrategy) Verify(context.Context, Request) error { return nil }

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return value
	}
	for candidate, value := range headers {
		if strings.EqualFold(candidate, key) {
			return value
		}
	}
	return ""
}
