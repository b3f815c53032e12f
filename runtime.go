package connectors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/correlation"
	"github.com/goliatone/go-connectors/expression"
	"github.com/goliatone/go-connectors/lifecycle"
	"github.com/goliatone/go-connectors/poller"
	"github.com/goliatone/go-connectors/reconcile"
	"github.com/goliatone/go-connectors/webhooks"
)

// Runtime wires the importer, lifecycle manager, subscription registry,
// webhook pipeline and correlation handler around one configuration.
type Runtime struct {
	config      Config
	logger      core.Logger
	tracer      core.Tracer
	definitions core.DefinitionRepository
	executables *core.ExecutableRegistry
	registry    *lifecycle.Registry
	manager     *lifecycle.Manager
	correlator  *correlation.Handler
	pipeline    *webhooks.Pipeline
	importer    *poller.Importer
}

func NewRuntime(cfg Config, opts ...Option) (*Runtime, error) {
	builder := defaultRuntimeBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connectors", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	named := func(name string) core.Logger {
		if provider != nil {
			if l := provider.GetLogger(name); l != nil {
				return glog.Ensure(l)
			}
		}
		return logger
	}

	finalConfig, err := core.ResolveConfig(
		context.Background(),
		builder.configProvider,
		builder.optionsResolver,
		builder.runtimeConfig,
	)
	if err != nil {
		return nil, core.MapError(err)
	}

	source := builder.source
	if source == nil && builder.definitions != nil {
		source = builder.definitions
	}
	if source == nil {
		return nil, runtimeDependencyError("connectors: definition source is required")
	}
	if builder.extractor == nil {
		return nil, runtimeDependencyError("connectors: correlation point extractor is required")
	}
	if builder.sink == nil {
		return nil, runtimeDependencyError("connectors: correlation sink is required")
	}
	if builder.evaluator == nil {
		builder.evaluator = expression.NewEvaluator()
	}
	if builder.secrets == nil {
		builder.secrets = core.PassthroughSecretResolver{}
	}
	if builder.metrics == nil {
		builder.metrics = core.NopMetricsRecorder{}
	}
	if builder.tracer == nil {
		builder.tracer = core.NopTracer{}
	}
	if builder.ledger == nil {
		builder.ledger = webhooks.NewInMemoryDeliveryLedger()
	}

	executables := core.NewExecutableRegistry()
	if _, overridden := builder.factories[webhooks.ConnectorType]; !overridden {
		builder.factories[webhooks.ConnectorType] = webhooks.NewExecutableFactory(builder.evaluator, builder.secrets)
	}
	types := make([]string, 0, len(builder.factories))
	for connectorType := range builder.factories {
		types = append(types, connectorType)
	}
	sort.Strings(types)
	for _, connectorType := range types {
		if err := executables.Register(connectorType, builder.factories[connectorType]); err != nil {
			return nil, err
		}
	}

	observer := func(name string) core.Observer {
		return core.NewObserver(name, named(name), builder.metrics)
	}

	registry := lifecycle.NewRegistry()
	manager, err := lifecycle.NewManager(registry, builder.extractor, executables,
		lifecycle.WithObserver(observer("connectors.lifecycle")),
	)
	if err != nil {
		return nil, err
	}
	correlator, err := correlation.NewHandler(builder.sink, builder.evaluator,
		correlation.WithTimeout(finalConfig.Correlation.Timeout),
		correlation.WithObserver(observer("connectors.correlation")),
	)
	if err != nil {
		return nil, err
	}
	pipelineOpts := []webhooks.PipelineOption{
		webhooks.WithDeliveryLedger(builder.ledger, finalConfig.Webhook.DeliveryLease),
		webhooks.WithPipelineObserver(observer("connectors.webhooks")),
	}
	if len(finalConfig.Webhook.DedupeHeaders) > 0 {
		pipelineOpts = append(pipelineOpts, webhooks.WithDedupeHeaders(finalConfig.Webhook.DedupeHeaders...))
	}
	pipeline, err := webhooks.NewPipeline(registry, correlator, builder.evaluator, pipelineOpts...)
	if err != nil {
		return nil, err
	}
	importer, err := poller.NewImporter(source, manager,
		poller.WithInterval(finalConfig.Polling.Interval),
		poller.WithObserver(observer("connectors.poller")),
		poller.WithTracer(builder.tracer),
	)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		config:      finalConfig,
		logger:      logger,
		tracer:      builder.tracer,
		definitions: builder.definitions,
		executables: executables,
		registry:    registry,
		manager:     manager,
		correlator:  correlator,
		pipeline:    pipeline,
		importer:    importer,
	}, nil
}

func (r *Runtime) Config() Config {
	return r.config
}

// Run imports definitions until ctx is done, then deactivates every
// subscription it registered.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("connectors runtime started",
		"service", r.config.ServiceName,
		"polling_interval", r.config.Polling.Interval.String(),
		"connector_types", strings.Join(r.executables.Types(), ","),
	)
	err := r.importer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Correlation.Timeout)
	defer cancel()
	if shutdownErr := r.Shutdown(shutdownCtx); shutdownErr != nil {
		r.logger.Warn("connectors runtime shutdown incomplete", "error", shutdownErr.Error())
	}
	return err
}

// Shutdown deactivates all registered subscriptions.
func (r *Runtime) Shutdown(ctx context.Context) error {
	seen := map[int64]struct{}{}
	keys := []core.DeregistrationKey{}
	for _, sub := range r.registry.List(nil) {
		if _, ok := seen[sub.Definition.DefinitionKey]; ok {
			continue
		}
		seen[sub.Definition.DefinitionKey] = struct{}{}
		keys = append(keys, core.DeregisterDefinitionKey(sub.Definition))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.manager.HandleDeletedProcessDefinitions(ctx, keys)
}

// ReconcileNow runs one import cycle outside the polling schedule. It
// returns poller.ErrCycleInProgress when a cycle is already running.
func (r *Runtime) ReconcileNow(ctx context.Context) (reconcile.Result, error) {
	return r.importer.RunOnce(ctx)
}

// HandleWebhookRequest runs an inbound request through the webhook pipeline.
func (r *Runtime) HandleWebhookRequest(ctx context.Context, req core.WebhookRequest) core.WebhookResponse {
	ctx, end := r.tracer.Start(ctx, "webhook.process", map[string]any{
		"context_path": req.ContextPath,
		"method":       req.Method,
	})
	resp := r.pipeline.Process(ctx, req)
	var spanErr error
	if resp.StatusCode >= http.StatusInternalServerError {
		spanErr = fmt.Errorf("connectors: webhook %s answered %d", req.ContextPath, resp.StatusCode)
	}
	end(spanErr)
	return resp
}

// Process lets the runtime serve as a transport.WebhookProcessor.
func (r *Runtime) Process(ctx context.Context, req core.WebhookRequest) core.WebhookResponse {
	return r.HandleWebhookRequest(ctx, req)
}

// Subscriptions returns a snapshot of the registry with refreshed health.
func (r *Runtime) Subscriptions() []core.InboundSubscription {
	r.manager.RefreshHealth(context.Background())
	return r.registry.List(nil)
}

func (r *Runtime) Subscription(contextPath string) (core.InboundSubscription, bool) {
	return r.registry.FindByContextPath(contextPath)
}

// DeactivateDefinition tears down the subscriptions of one definition key.
// The definition itself stays deployed.
func (r *Runtime) DeactivateDefinition(ctx context.Context, ref core.ProcessDefinitionRef) error {
	if err := ref.Validate(); err != nil {
		return core.MapError(err)
	}
	return r.manager.HandleDeletedProcessDefinitions(ctx, []core.DeregistrationKey{core.DeregisterDefinitionKey(ref)})
}

func (r *Runtime) Deploy(ctx context.Context, in core.DeployDefinitionInput) (core.ProcessDefinitionRef, error) {
	if r.definitions == nil {
		return core.ProcessDefinitionRef{}, runtimeDependencyError("connectors: definition repository is not configured")
	}
	return r.definitions.Deploy(ctx, in)
}

func (r *Runtime) Undeploy(ctx context.Context, ref core.ProcessDefinitionRef) error {
	if r.definitions == nil {
		return runtimeDependencyError("connectors: definition repository is not configured")
	}
	return r.definitions.Undeploy(ctx, ref)
}

func (r *Runtime) List(ctx context.Context, includeDeleted bool) ([]core.DeployedDefinition, error) {
	if r.definitions == nil {
		return nil, runtimeDependencyError("connectors: definition repository is not configured")
	}
	return r.definitions.List(ctx, includeDeleted)
}

func (r *Runtime) Status() poller.Status {
	return r.importer.Status()
}

// PendingActivations lists definitions whose activation failed and will be
// retried on the next import cycle.
func (r *Runtime) PendingActivations() []core.ProcessDefinitionRef {
	return r.manager.Pending()
}

func runtimeDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
