package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/expression"
)

func webhookConfig(props map[string]string) core.SubscriptionConfig {
	base := map[string]string{
		"inbound.type":      ConnectorType,
		"inbound.context":   "webhookContext",
		"inbound.method":    "any",
		"inbound.auth.type": "NONE",
	}
	for key, value := range props {
		base[key] = value
	}
	return core.NewSubscriptionConfig(ConnectorType, base)
}

func activeExecutable(t *testing.T, props map[string]string) *Executable {
	t.Helper()
	built, err := NewExecutableFactory(expression.NewEvaluator(), nil)(webhookConfig(props))
	if err != nil {
		t.Fatalf("build executable: %v", err)
	}
	executable := built.(*Executable)
	if err := executable.Activate(context.Background(), core.InboundSubscription{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return executable
}

func jsonRequest(method, body string) core.WebhookRequest {
	return core.WebhookRequest{
		ContextPath: "webhookContext",
		Method:      method,
		Headers:     map[string]string{"Content-Type": "application/json"},
		Body:        []byte(body),
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(webhookConfig(map[string]string{
		"inbound.method":                 "GET",
		"inbound.responseBodyExpression": "=request.body",
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ContextPath != "webhookContext" || cfg.Method != "get" || cfg.ResponseBodyExpression != "=request.body" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Allows("get") || cfg.Allows("POST") {
		t.Fatalf("expected only GET to be allowed")
	}
}

func TestParseConfigRejectsInvalidProperties(t *testing.T) {
	cases := map[string]map[string]string{
		"bad path":       {"inbound.context": "a/b c"},
		"bad method":     {"inbound.method": "trace"},
		"bad auth":       {"inbound.auth.type": "jwt"},
		"bad expression": {"inbound.responseBodyExpression": "request.body"},
	}
	for name, props := range cases {
		if _, err := ParseConfig(webhookConfig(props)); !core.HasTextCode(err, core.ErrorBadInput) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := ParseConfig(core.NewSubscriptionConfig(ConnectorType, nil)); err == nil {
		t.Fatalf("expected missing context to be rejected")
	}
}

func TestTriggerDecodesJSONAndForm(t *testing.T) {
	executable := activeExecutable(t, nil)

	delivery, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{"key": "value"}`))
	if err != nil {
		t.Fatalf("trigger json: %v", err)
	}
	body := delivery.View["request"].(map[string]any)["body"].(map[string]any)
	if body["key"] != "value" {
		t.Fatalf("expected decoded json body, got %#v", body)
	}

	req := core.WebhookRequest{
		Method:  http.MethodPost,
		Headers: map[string]string{"content-type": "application/x-www-form-urlencoded"},
		Body:    []byte("key1=value1&key2=value2"),
	}
	delivery, err = executable.Trigger(context.Background(), req)
	if err != nil {
		t.Fatalf("trigger form: %v", err)
	}
	body = delivery.View["request"].(map[string]any)["body"].(map[string]any)
	if body["key1"] != "value1" || body["key2"] != "value2" {
		t.Fatalf("expected decoded form body, got %#v", body)
	}
}

func TestTriggerMethodGating(t *testing.T) {
	executable := activeExecutable(t, map[string]string{"inbound.method": "get"})
	for _, body := range []string{`{"key": "value"}`, `not json`} {
		_, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, body))
		if !core.HasTextCode(err, core.ErrorWebhookMethodNotAllowed) {
			t.Fatalf("expected method not allowed for %q, got %v", body, err)
		}
	}
	if _, err := executable.Trigger(context.Background(), jsonRequest(http.MethodGet, `{}`)); err != nil {
		t.Fatalf("expected GET to pass: %v", err)
	}
}

func TestTriggerHMAC(t *testing.T) {
	executable := activeExecutable(t, map[string]string{
		"inbound.shouldValidateHmac": "enabled",
		"inbound.hmacSecret":         "mySecretKey",
		"inbound.hmacHeader":         "X-HMAC-Sig",
		"inbound.hmacAlgorithm":      "sha_256",
	})

	req := jsonRequest(http.MethodPost, `{"key": "value"}`)
	req.Headers["X-HMAC-Sig"] = "fa431d91a69beb76186b3b082c5bb87bab0702769d65761af2361cbf3a17cc09"
	if _, err := executable.Trigger(context.Background(), req); err != nil {
		t.Fatalf("expected matching signature to pass: %v", err)
	}

	req.Headers["X-HMAC-Sig"] = "123132313214533154234132534123452"
	if _, err := executable.Trigger(context.Background(), req); !core.HasTextCode(err, core.ErrorWebhookUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestTriggerAuthenticatesBeforeReportingBadBody(t *testing.T) {
	executable := activeExecutable(t, map[string]string{
		"inbound.auth.type":       "hmac",
		"inbound.auth.hmacSecret": "s",
	})
	req := jsonRequest(http.MethodPost, `{broken`)
	if _, err := executable.Trigger(context.Background(), req); !core.HasTextCode(err, core.ErrorWebhookUnauthorized) {
		t.Fatalf("expected unauthenticated malformed body to be unauthorized, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write(req.Body)
	req.Headers["X-Signature"] = hex.EncodeToString(mac.Sum(nil))
	if _, err := executable.Trigger(context.Background(), req); !core.HasTextCode(err, core.ErrorWebhookBadBody) {
		t.Fatalf("expected bad body after authentication, got %v", err)
	}
}

func TestTriggerAPIKeyFromBody(t *testing.T) {
	executable := activeExecutable(t, map[string]string{
		"inbound.auth.type":          "apikey",
		"inbound.auth.apiKey":        "k1",
		"inbound.auth.apiKeyLocator": "=request.body.token",
	})
	if _, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{"token":"k1"}`)); err != nil {
		t.Fatalf("expected body locator to authenticate: %v", err)
	}
	if _, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{"token":"k2"}`)); !core.HasTextCode(err, core.ErrorWebhookUnauthorized) {
		t.Fatalf("expected wrong key to be unauthorized, got %v", err)
	}
}

func TestTriggerVerificationExpression(t *testing.T) {
	executable := activeExecutable(t, map[string]string{
		"inbound.verificationExpression": `=request.body.challenge != nil ? {"body": {"challenge": request.body.challenge}, "statusCode": 200} : nil`,
	})
	delivery, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{"challenge":"abc"}`))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if delivery.Response == nil {
		t.Fatalf("expected explicit verification response")
	}
	body := delivery.Response.Body.(map[string]any)
	if body["challenge"] != "abc" || delivery.Response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected verification response %+v", delivery.Response)
	}

	delivery, err = executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{"event":"x"}`))
	if err != nil || delivery.Response != nil {
		t.Fatalf("expected regular delivery without challenge, got %+v %v", delivery.Response, err)
	}
}

func TestExecutableLifecycleAndHealth(t *testing.T) {
	built, err := NewExecutableFactory(expression.NewEvaluator(), nil)(webhookConfig(nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	executable := built.(*Executable)
	if executable.ContextPath() != "webhookContext" {
		t.Fatalf("unexpected context path %q", executable.ContextPath())
	}
	if _, err := executable.Trigger(context.Background(), jsonRequest(http.MethodPost, `{}`)); !core.HasTextCode(err, core.ErrorWebhookNotFound) {
		t.Fatalf("expected inactive executable to be not found, got %v", err)
	}
	if err := executable.Activate(context.Background(), core.InboundSubscription{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if executable.Health().Status != core.HealthStatusUp {
		t.Fatalf("expected healthy executable")
	}
	if err := executable.Deactivate(context.Background()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if executable.Health().Status == core.HealthStatusUp {
		t.Fatalf("expected deactivated executable not to report up")
	}

	broken, _ := NewExecutableFactory(expression.NewEvaluator(), nil)(webhookConfig(map[string]string{"inbound.auth.type": "hmac"}))
	if err := broken.Activate(context.Background(), core.InboundSubscription{}); err == nil {
		t.Fatalf("expected activation without hmac secret to fail")
	}
	if broken.(*Executable).Health().Status != core.HealthStatusDown {
		t.Fatalf("expected failed activation to report down")
	}
}

func TestExecutableRequiresPayloadCorrelationKeyForMessagePoints(t *testing.T) {
	factory := NewExecutableFactory(expression.NewEvaluator(), nil)

	onlySubscriptionKey := webhookConfig(map[string]string{core.PropertySubscriptionCorrelationKey: "=orderId"})
	built, err := factory(onlySubscriptionKey)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sub := core.InboundSubscription{Point: core.MessageIntermediatePoint("wait_payment"), Config: onlySubscriptionKey}
	if err := built.Activate(context.Background(), sub); err == nil {
		t.Fatalf("expected a message point without a payload correlation key to fail activation")
	}
	if built.(*Executable).Health().Status != core.HealthStatusDown {
		t.Fatalf("expected failed activation to report down")
	}

	withPayloadKey := webhookConfig(map[string]string{
		core.PropertySubscriptionCorrelationKey: "=orderId",
		core.PropertyCorrelationKey:             "=request.body.orderId",
	})
	built, _ = factory(withPayloadKey)
	sub.Config = withPayloadKey
	if err := built.Activate(context.Background(), sub); err != nil {
		t.Fatalf("expected message point with a payload key to activate: %v", err)
	}

	start, _ := factory(webhookConfig(nil))
	if err := start.Activate(context.Background(), core.InboundSubscription{Point: core.StartEventPoint("start"), Config: webhookConfig(nil)}); err != nil {
		t.Fatalf("expected start event without keys to activate: %v", err)
	}
}
