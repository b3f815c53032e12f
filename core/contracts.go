package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DefinitionSource yields the full snapshot of currently deployed process
// definitions on each call.
type DefinitionSource interface {
	Poll(ctx context.Context) ([]ProcessDefinitionRef, error)
}

// CorrelationPointExtractor reads a process model and returns the inbound
// correlation points it declares together with their raw configuration.
type CorrelationPointExtractor interface {
	Extract(ctx context.Context, ref ProcessDefinitionRef) ([]PointConfig, error)
}

type CorrelationRequest struct {
	Definition     ProcessDefinitionRef
	Point          CorrelationPoint
	MessageName    string
	CorrelationKey string
	MessageID      string
	Variables      map[string]any
}

// CorrelationOutcome is what the engine reports back for a correlation.
// MatchedInstances is zero when a start event created a new instance.
type CorrelationOutcome struct {
	MatchedInstances    int
	ProcessInstanceKeys []int64
	Started             bool
}

// CorrelationSink delivers correlation requests to the process engine. It may
// return ErrNoMatchingInstance or ErrAmbiguousMatch for business mismatches;
// any other error is treated as a transport failure.
type CorrelationSink interface {
	Correlate(ctx context.Context, req CorrelationRequest) (CorrelationOutcome, error)
}

type CorrelationSinkFunc func(ctx context.Context, req CorrelationRequest) (CorrelationOutcome, error)

func (f CorrelationSinkFunc) Correlate(ctx context.Context, req CorrelationRequest) (CorrelationOutcome, error) {
	return f(ctx, req)
}

// Evaluator evaluates environment supplied expressions. A leading "=" marks
// an expression; implementations strip it.
type Evaluator interface {
	Evaluate(expression string, vars map[string]any) (any, error)
	EvaluateBool(expression string, vars map[string]any) (bool, error)
}

// SecretResolver replaces secret placeholders in configuration values.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

type PassthroughSecretResolver struct{}

func (PassthroughSecretResolver) Resolve(_ context.Context, value string) (string, error) {
	return value, nil
}

// Executable is the live trigger behind a subscription, for example a
// registered webhook endpoint.
type Executable interface {
	Activate(ctx context.Context, sub InboundSubscription) error
	Deactivate(ctx context.Context) error
}

// ExecutableFactory builds an executable for a subscription configuration.
type ExecutableFactory func(cfg SubscriptionConfig) (Executable, error)

// ContextPathOwner is implemented by executables reachable over HTTP.
type ContextPathOwner interface {
	ContextPath() string
}

type HealthReporter interface {
	Health() Health
}

type WebhookRequest struct {
	ContextPath string
	Method      string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	ReceivedAt  time.Time
}

type WebhookResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       any
}

type CorrelationResultKind string

const (
	CorrelationCorrelated      CorrelationResultKind = "correlated"
	CorrelationConditionNotMet CorrelationResultKind = "condition_not_met"
	CorrelationUnmatched       CorrelationResultKind = "unmatched"
	CorrelationAmbiguous       CorrelationResultKind = "ambiguous"
)

type CorrelationResult struct {
	Kind                CorrelationResultKind
	Point               CorrelationPoint
	ProcessInstanceKeys []int64
	Started             bool
	MessageID           string
	Variables           map[string]any
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Tracer opens a span around an operation. The returned function ends the
// span and records err when it is not nil.
type Tracer interface {
	Start(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
}

type NopTracer struct{}

func (NopTracer) Start(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}
