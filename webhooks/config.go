package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/goliatone/go-connectors/auth"
	"github.com/goliatone/go-connectors/core"
)

// ConnectorType is the subscription type served by this package.
const ConnectorType = "webhook"

const MethodAny = "any"

const (
	propertyContext                = "inbound.context"
	propertyMethod                 = "inbound.method"
	propertyResponseBodyExpression = "inbound.responseBodyExpression"
	propertyVerificationExpression = "inbound.verificationExpression"
)

const configSchemaURL = "connectors://schema/webhook.json"

const configSchema = `{
  "type": "object",
  "required": ["inbound"],
  "properties": {
    "inbound": {
      "type": "object",
      "required": ["context"],
      "properties": {
        "context": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9._~-]*$"},
        "method": {"type": "string", "pattern": "^(?i:any|get|post|put|patch|delete)$"},
        "auth": {
          "type": "object",
          "properties": {
            "type": {"type": "string", "pattern": "^(?i:none|apikey|hmac)$"}
          }
        },
        "responseBodyExpression": {"type": "string", "pattern": "^\\s*="},
        "verificationExpression": {"type": "string", "pattern": "^\\s*="}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Config is the typed view of a webhook subscription's properties.
type Config struct {
	ContextPath            string
	Method                 string
	Auth                   auth.Config
	ResponseBodyExpression string
	VerificationExpression string
}

// ParseConfig validates the raw properties against the webhook schema and
// returns the typed configuration.
func ParseConfig(cfg core.SubscriptionConfig) (Config, error) {
	schema, err := webhookSchema()
	if err != nil {
		return Config{}, err
	}
	properties := cfg.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	if err := schema.Validate(properties); err != nil {
		return Config{}, goerrors.NewValidation("invalid webhook configuration",
			goerrors.FieldError{Field: "inbound", Message: err.Error()},
		).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}

	method := strings.ToLower(cfg.Text(propertyMethod))
	if method == "" {
		method = MethodAny
	}
	return Config{
		ContextPath:            normalizeContextPath(cfg.Text(propertyContext)),
		Method:                 method,
		Auth:                   auth.ConfigFromProperties(cfg),
		ResponseBodyExpression: cfg.Text(propertyResponseBodyExpression),
		VerificationExpression: cfg.Text(propertyVerificationExpression),
	}, nil
}

// Allows reports whether the configured method accepts method.
func (c Config) Allows(method string) bool {
	return c.Method == MethodAny || strings.EqualFold(c.Method, strings.TrimSpace(method))
}

func webhookSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(configSchema), &doc); err != nil {
			schemaErr = fmt.Errorf("webhooks: unmarshal config schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(configSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("webhooks: add config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(configSchemaURL)
	})
	return compiledSchema, schemaErr
}

func normalizeContextPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
