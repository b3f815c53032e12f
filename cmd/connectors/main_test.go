package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	connectors "github.com/goliatone/go-connectors"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/observability"
)

const invoiceModel = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:zeebe="http://camunda.org/schema/zeebe/1.0" id="defs">
  <bpmn:process id="invoices" isExecutable="true">
    <bpmn:startEvent id="start">
      <bpmn:extensionElements>
        <zeebe:properties>
          <zeebe:property name="inbound.type" value="webhook" />
          <zeebe:property name="inbound.context" value="invoices" />
        </zeebe:properties>
      </bpmn:extensionElements>
    </bpmn:startEvent>
  </bpmn:process>
</bpmn:definitions>`

func writeTestConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "connectors.yaml")
	config := "service_name: connectors-cli-test\n" +
		"storage:\n" +
		"  driver: sqlite3\n" +
		"  dsn: \"file:" + filepath.ToSlash(filepath.Join(dir, "connectors.db")) + "?_foreign_keys=on\"\n" +
		strings.Join(extra, "")
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDefinitionCommandsRoundTrip(t *testing.T) {
	configPath := writeTestConfig(t)
	modelPath := filepath.Join(t.TempDir(), "invoices.bpmn")
	if err := os.WriteFile(modelPath, []byte(invoiceModel), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}

	out, err := runCLI(t, "deploy", modelPath, "--process", "invoices", "--config", configPath)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !strings.Contains(out, "invoices@v1#1") || !strings.Contains(out, "1 inbound points") {
		t.Fatalf("unexpected deploy output %q", out)
	}

	if _, err := runCLI(t, "deploy", modelPath, "--process", "missing", "--config", configPath); err == nil {
		t.Fatalf("expected deploy of an unknown process to fail before storing")
	}

	if _, err := runCLI(t, "undeploy", "--key", "1", "--config", configPath); err != nil {
		t.Fatalf("undeploy: %v", err)
	}

	out, err = runCLI(t, "definitions", "--config", configPath)
	if err != nil {
		t.Fatalf("definitions: %v", err)
	}
	if strings.Contains(out, "invoices") {
		t.Fatalf("expected undeployed definition to be hidden, got %q", out)
	}
	out, err = runCLI(t, "definitions", "--all", "--config", configPath)
	if err != nil {
		t.Fatalf("definitions --all: %v", err)
	}
	if !strings.Contains(out, "invoices") || !strings.Contains(out, "undeployed") {
		t.Fatalf("expected undeployed definition in full listing, got %q", out)
	}
}

func TestSealCommandProducesResolvableSecret(t *testing.T) {
	configPath := writeTestConfig(t, "secrets:\n  app_key: test-app-key\n")

	out, err := runCLI(t, "seal", "hmac-secret", "--config", configPath)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed := strings.TrimSpace(out)
	if !strings.HasPrefix(sealed, "connectors.secret.v1:") {
		t.Fatalf("unexpected sealed output %q", out)
	}

	resolver, err := newSecretResolver(core.SecretsConfig{
		AppKey: "test-app-key",
		Values: map[string]string{"HMAC": sealed},
	})
	if err != nil {
		t.Fatalf("new secret resolver: %v", err)
	}
	got, err := resolver.Resolve(context.Background(), "{{secrets.HMAC}}")
	if err != nil || got != "hmac-secret" {
		t.Fatalf("expected sealed secret to resolve, got %q %v", got, err)
	}

	if _, err := runCLI(t, "seal", "value", "--config", writeTestConfig(t)); err == nil {
		t.Fatalf("expected seal without an app key to fail")
	}
}

type fixedSource []core.ProcessDefinitionRef

func (s fixedSource) Poll(context.Context) ([]core.ProcessDefinitionRef, error) {
	return s, nil
}

type modelExtractor struct{}

func (modelExtractor) Extract(context.Context, core.ProcessDefinitionRef) ([]core.PointConfig, error) {
	return []core.PointConfig{{
		Point: core.StartEventPoint("start"),
		Config: core.NewSubscriptionConfig("webhook", map[string]string{
			"inbound.type":    "webhook",
			"inbound.context": "invoices",
		}),
	}}, nil
}

func TestRouterServesWebhooksMetricsAndSubscriptions(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := core.CorrelationSinkFunc(func(context.Context, core.CorrelationRequest) (core.CorrelationOutcome, error) {
		return core.CorrelationOutcome{Started: true}, nil
	})
	runtime, err := connectors.NewRuntime(connectors.DefaultConfig(),
		connectors.WithDefinitionSource(fixedSource{{ProcessID: "invoices", Version: 1, DefinitionKey: 1}}),
		connectors.WithCorrelationPointExtractor(modelExtractor{}),
		connectors.WithCorrelationSink(sink),
		connectors.WithMetricsRecorder(observability.NewPrometheusRecorder(registry)),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if _, err := runtime.ReconcileNow(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	router, release, err := newRouter(runtime, registry)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer release()

	req := httptest.NewRequest(http.MethodPost, "/inbound/invoices", strings.NewReader(`{"id":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook to be accepted, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions?process_id=invoices", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"context_path":"invoices"`) {
		t.Fatalf("unexpected subscriptions response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "connectors_") {
		t.Fatalf("expected connectors metrics, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"registered":0`) {
		t.Fatalf("expected an empty manual reconcile, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"registered":1`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewEngineClientAddsBearerToken(t *testing.T) {
	client, err := newEngineClient(core.EngineConfig{
		BaseURL:   "http://engine.local",
		AuthToken: "secret",
		Timeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("new engine client: %v", err)
	}
	if client.DefaultHeaders["Authorization"] != "Bearer secret" {
		t.Fatalf("expected bearer header, got %v", client.DefaultHeaders)
	}
	if client.Throttle == nil {
		t.Fatalf("expected engine backpressure policy")
	}
	if _, err := newEngineClient(core.EngineConfig{BaseURL: "engine"}); err == nil {
		t.Fatalf("expected relative base url to be rejected")
	}
}
