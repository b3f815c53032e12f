package connectors

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/webhooks"
)

type Option func(*runtimeBuilder)

type runtimeBuilder struct {
	runtimeConfig   Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metrics         core.MetricsRecorder
	tracer          core.Tracer
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	source          core.DefinitionSource
	definitions     core.DefinitionRepository
	extractor       core.CorrelationPointExtractor
	sink            core.CorrelationSink
	evaluator       core.Evaluator
	secrets         core.SecretResolver
	ledger          webhooks.DeliveryLedger
	factories       map[string]core.ExecutableFactory
}

func defaultRuntimeBuilder(cfg Config) runtimeBuilder {
	return runtimeBuilder{
		runtimeConfig: cfg,
		factories:     map[string]core.ExecutableFactory{},
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *runtimeBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *runtimeBuilder) {
		b.metrics = recorder
	}
}

func WithTracer(tracer core.Tracer) Option {
	return func(b *runtimeBuilder) {
		b.tracer = tracer
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *runtimeBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *runtimeBuilder) {
		b.optionsResolver = resolver
	}
}

func WithDefinitionSource(source core.DefinitionSource) Option {
	return func(b *runtimeBuilder) {
		b.source = source
	}
}

// WithDefinitionRepository enables Deploy and Undeploy and serves as the
// definition source unless one is set explicitly.
func WithDefinitionRepository(repository core.DefinitionRepository) Option {
	return func(b *runtimeBuilder) {
		b.definitions = repository
	}
}

func WithCorrelationPointExtractor(extractor core.CorrelationPointExtractor) Option {
	return func(b *runtimeBuilder) {
		b.extractor = extractor
	}
}

func WithCorrelationSink(sink core.CorrelationSink) Option {
	return func(b *runtimeBuilder) {
		b.sink = sink
	}
}

func WithEvaluator(evaluator core.Evaluator) Option {
	return func(b *runtimeBuilder) {
		b.evaluator = evaluator
	}
}

func WithSecretResolver(secrets core.SecretResolver) Option {
	return func(b *runtimeBuilder) {
		b.secrets = secrets
	}
}

func WithDeliveryLedger(ledger webhooks.DeliveryLedger) Option {
	return func(b *runtimeBuilder) {
		b.ledger = ledger
	}
}

// WithExecutableFactory registers an additional connector type next to the
// built-in webhook connector.
func WithExecutableFactory(connectorType string, factory core.ExecutableFactory) Option {
	return func(b *runtimeBuilder) {
		if factory == nil {
			return
		}
		b.factories[strings.TrimSpace(connectorType)] = factory
	}
}
