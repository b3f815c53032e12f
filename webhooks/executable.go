package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/auth"
	"github.com/goliatone/go-connectors/core"
)

// Delivery is an authenticated and decoded request ready for correlation.
// Response is set when a verification expression answered the request
// directly.
type Delivery struct {
	View                   map[string]any
	Response               *core.WebhookResponse
	ResponseBodyExpression string
}

// Trigger is implemented by executables that accept webhook deliveries.
type Trigger interface {
	Trigger(ctx context.Context, req core.WebhookRequest) (Delivery, error)
}

// Executable is the endpoint behind one webhook subscription. It owns the
// method check, authentication and body decoding for its context path.
type Executable struct {
	config    Config
	evaluator core.Evaluator
	secrets   core.SecretResolver
	now       func() time.Time

	mu          sync.RWMutex
	strategy    auth.Strategy
	active      bool
	activatedAt time.Time
	lastErr     error
	deliveries  int64
	rejections  int64
}

func NewExecutable(cfg Config, evaluator core.Evaluator, secrets core.SecretResolver) (*Executable, error) {
	if cfg.ContextPath == "" {
		return nil, fmt.Errorf("webhooks: context path is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("webhooks: evaluator is required")
	}
	if secrets == nil {
		secrets = core.PassthroughSecretResolver{}
	}
	return &Executable{
		config:    cfg,
		evaluator: evaluator,
		secrets:   secrets,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewExecutableFactory returns the factory registered for the webhook
// connector type. Configuration errors surface when the factory runs, before
// the subscription is activated.
func NewExecutableFactory(evaluator core.Evaluator, secrets core.SecretResolver) core.ExecutableFactory {
	return func(cfg core.SubscriptionConfig) (core.Executable, error) {
		parsed, err := ParseConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewExecutable(parsed, evaluator, secrets)
	}
}

func (e *Executable) ContextPath() string { return e.config.ContextPath }

func (e *Executable) Config() Config { return e.config }

// Activate builds the authentication strategy. A message point must declare
// a payload side correlationKeyExpression; the subscription key of its
// message is evaluated by the engine against process variables.
func (e *Executable) Activate(ctx context.Context, sub core.InboundSubscription) error {
	strategy, err := auth.NewStrategy(ctx, e.config.Auth, e.evaluator, e.secrets)
	if err == nil && sub.Point.RequiresExistingInstance() && sub.Config.CorrelationKeyExpression() == "" {
		err = fmt.Errorf("webhooks: %s %q needs %s", sub.Point.Kind, sub.Point.ElementID, core.PropertyCorrelationKey)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastErr = err
		return err
	}
	e.strategy = strategy
	e.active = true
	e.activatedAt = e.now()
	e.lastErr = nil
	return nil
}

func (e *Executable) Deactivate(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.strategy = nil
	return nil
}

func (e *Executable) Health() core.Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.active {
		if e.lastErr != nil {
			return core.HealthDown(e.lastErr)
		}
		return core.Health{Status: core.HealthStatusUnknown}
	}
	health := core.HealthUp()
	health.Details = map[string]any{
		"context_path": e.config.ContextPath,
		"method":       e.config.Method,
		"auth":         string(e.config.Auth.Kind),
		"activated_at": e.activatedAt,
		"deliveries":   e.deliveries,
		"rejections":   e.rejections,
	}
	return health
}

// Trigger checks the method, authenticates and decodes req. The decoded body
// is offered to the authentication strategy before a decoding failure is
// reported, so locators that read the body still work and an unauthenticated
// caller never learns whether its payload was well formed.
func (e *Executable) Trigger(ctx context.Context, req core.WebhookRequest) (Delivery, error) {
	e.mu.RLock()
	strategy, active := e.strategy, e.active
	e.mu.RUnlock()
	if !active || strategy == nil {
		return Delivery{}, core.NewNotFoundError(e.config.ContextPath)
	}
	if !e.config.Allows(req.Method) {
		e.reject()
		return Delivery{}, core.NewMethodNotAllowedError(req.Method)
	}

	body, decodeErr := DecodeBody(headerValue(req.Headers, "Content-Type"), req.Body)
	view := RequestView(req, body)
	if err := strategy.Verify(ctx, auth.Request{Headers: req.Headers, RawBody: req.Body, View: view}); err != nil {
		e.reject()
		return Delivery{}, core.NewUnauthorizedError(err)
	}
	if decodeErr != nil {
		e.reject()
		return Delivery{}, decodeErr
	}

	delivery := Delivery{View: view, ResponseBodyExpression: e.config.ResponseBodyExpression}
	if expression := e.config.VerificationExpression; expression != "" {
		out, err := e.evaluator.Evaluate(expression, view)
		if err != nil {
			return Delivery{}, core.NewExpressionError(expression, err)
		}
		if out != nil {
			delivery.Response = verificationResponse(out)
		}
	}

	e.mu.Lock()
	e.deliveries++
	e.mu.Unlock()
	return delivery, nil
}

func (e *Executable) reject() {
	e.mu.Lock()
	e.rejections++
	e.mu.Unlock()
}

// RequestView is the variable tree expressions see for a delivery.
func RequestView(req core.WebhookRequest, body any) map[string]any {
	if body == nil {
		body = map[string]any{}
	}
	return map[string]any{
		"request": map[string]any{
			"body":        body,
			"headers":     headerMap(req.Headers),
			"params":      stringMap(req.Query),
			"method":      strings.ToUpper(strings.TrimSpace(req.Method)),
			"contextPath": normalizeContextPath(req.ContextPath),
		},
	}
}

// verificationResponse accepts either a bare body or an object with body,
// statusCode and headers fields.
func verificationResponse(out any) *core.WebhookResponse {
	resp := &core.WebhookResponse{StatusCode: http.StatusOK, Body: out}
	typed, ok := out.(map[string]any)
	if !ok {
		return resp
	}
	body, hasBody := typed["body"]
	if !hasBody {
		return resp
	}
	resp.Body = body
	if status, ok := asStatusCode(typed["statusCode"]); ok {
		resp.StatusCode = status
	}
	if headers, ok := typed["headers"].(map[string]any); ok {
		resp.Headers = make(map[string]string, len(headers))
		for key, value := range headers {
			resp.Headers[key] = fmt.Sprint(value)
		}
	}
	return resp
}

func asStatusCode(value any) (int, bool) {
	var status int
	switch typed := value.(type) {
	case int:
		status = typed
	case int64:
		status = int(typed)
	case float64:
		status = int(typed)
	default:
		return 0, false
	}
	if status < 100 || status > 599 {
		return 0, false
	}
	return status, true
}

// headerMap exposes each header under its received, canonical and lower-case
// names so locators do not depend on how the transport spelled it.
func headerMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in)*2)
	for key, value := range in {
		out[strings.ToLower(key)] = value
		out[textproto.CanonicalMIMEHeaderKey(key)] = value
	}
	for key, value := range in {
		out[key] = value
	}
	return out
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var (
	_ core.Executable       = (*Executable)(nil)
	_ core.ContextPathOwner = (*Executable)(nil)
	_ core.HealthReporter   = (*Executable)(nil)
	_ Trigger               = (*Executable)(nil)
)
