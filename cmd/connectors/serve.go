package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	connectors "github.com/goliatone/go-connectors"
	"github.com/goliatone/go-connectors/adapters/gocommand"
	"github.com/goliatone/go-connectors/bpmn"
	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/observability"
	"github.com/goliatone/go-connectors/poller"
	connectorsquery "github.com/goliatone/go-connectors/query"
	"github.com/goliatone/go-connectors/ratelimit"
	redisstore "github.com/goliatone/go-connectors/store/redis"
	sqlstore "github.com/goliatone/go-connectors/store/sql"
	"github.com/goliatone/go-connectors/transport"
	"github.com/goliatone/go-connectors/webhooks"
)

const (
	shutdownTimeout     = 10 * time.Second
	deliveryPurgePeriod = time.Hour
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Import deployed definitions and serve inbound webhooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, opts.configPath)
	if err != nil {
		return err
	}
	_, logger := glog.Resolve(cfg.ServiceName, nil, nil)
	logger = glog.Ensure(logger)

	client, stores, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	extractor, err := newExtractor(stores.DefinitionStore())
	if err != nil {
		return err
	}
	sink, err := newEngineClient(cfg.Engine)
	if err != nil {
		return err
	}

	var (
		ledger   webhooks.DeliveryLedger = stores.WebhookDeliveryStore()
		purgeSQL                         = true
	)
	if addr := strings.TrimSpace(cfg.Redis.Address); addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		redisLedger, err := redisstore.NewLedger(rdb)
		if err != nil {
			return err
		}
		ledger, purgeSQL = redisLedger, false
	}

	secrets, err := newSecretResolver(cfg.Secrets)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runtime, err := connectors.NewRuntime(cfg,
		connectors.WithLogger(logger),
		connectors.WithDefinitionRepository(stores.DefinitionStore()),
		connectors.WithCorrelationPointExtractor(extractor),
		connectors.WithCorrelationSink(sink),
		connectors.WithDeliveryLedger(ledger),
		connectors.WithSecretResolver(secrets),
		connectors.WithMetricsRecorder(observability.NewPrometheusRecorder(registry)),
		connectors.WithTracer(observability.NewTracer(nil)),
	)
	if err != nil {
		return err
	}
	router, release, err := newRouter(runtime, registry)
	if err != nil {
		return err
	}
	defer release()
	server := &http.Server{
		Addr:              runtime.Config().HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("connectors http server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if purgeSQL {
		g.Go(func() error {
			purgeDeliveries(ctx, logger, stores.WebhookDeliveryStore())
			return nil
		})
	}
	return g.Wait()
}

func newExtractor(models bpmn.ModelSource) (core.CorrelationPointExtractor, error) {
	inspector, err := bpmn.NewInspector(models)
	if err != nil {
		return nil, err
	}
	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return bpmn.NewCachedExtractor(inspector, cacheService)
}

func newEngineClient(cfg core.EngineConfig) (*transport.EngineClient, error) {
	var httpClient *http.Client
	if cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	var doer transport.HTTPDoer
	if httpClient != nil {
		doer = httpClient
	}
	client, err := transport.NewEngineClient(cfg.BaseURL, doer)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		client.DefaultHeaders["Authorization"] = "Bearer " + token
	}
	client.Throttle = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	return client, nil
}

// newRouter serves webhooks, metrics and the admin endpoints. The returned
// function releases the dispatcher subscriptions.
func newRouter(runtime *connectors.Runtime, gatherer prometheus.Gatherer) (*gin.Engine, func(), error) {
	facade, err := connectors.NewFacade(runtime)
	if err != nil {
		return nil, nil, err
	}
	subs, err := gocommand.RegisterFacade(gocommand.NewRegistryAdapter(nil), facade)
	if err != nil {
		return nil, nil, err
	}
	webhookHandler, err := transport.NewWebhookHandler(runtime,
		transport.WithMaxBodyBytes(runtime.Config().Webhook.MaxBodyBytes),
	)
	if err != nil {
		subs.Unsubscribe()
		return nil, nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	webhookHandler.Register(router, runtime.Config().HTTP.BasePath)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		status := runtime.Status()
		code := http.StatusOK
		if status.LastError != "" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"cycles":      status.Cycles,
			"last_run_at": status.LastRunAt,
			"last_error":  status.LastError,
			"registered":  status.Registered,
			"pending":     len(runtime.PendingActivations()),
		})
	})
	router.GET("/subscriptions", func(c *gin.Context) {
		subs, err := gocommand.Query[connectorsquery.ListSubscriptionsMessage, []core.InboundSubscription](
			c.Request.Context(),
			connectorsquery.ListSubscriptionsMessage{
				Filter: connectorsquery.SubscriptionFilter{
					TenantID:  c.Query("tenant_id"),
					ProcessID: c.Query("process_id"),
					State:     core.ActivationState(c.Query("state")),
				},
			},
		)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]gin.H, 0, len(subs))
		for _, sub := range subs {
			out = append(out, gin.H{
				"definition":   sub.Definition.String(),
				"element_id":   sub.Point.ElementID,
				"point_kind":   string(sub.Point.Kind),
				"context_path": sub.ContextPath,
				"state":        string(sub.State),
				"health":       string(sub.Health.Status),
				"last_error":   sub.LastError,
			})
		}
		c.JSON(http.StatusOK, out)
	})
	router.POST("/admin/reconcile", func(c *gin.Context) {
		collector := gocmd.NewResult[connectorscommand.ReconcileSummary]()
		ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
		if err := gocommand.Dispatch(ctx, connectorscommand.ReconcileNowMessage{}); err != nil {
			if errors.Is(err, poller.ErrCycleInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		summary, _ := collector.Load()
		c.JSON(http.StatusOK, gin.H{
			"registered":   len(summary.Registered),
			"deregistered": len(summary.Deregistered),
		})
	})
	return router, subs.Unsubscribe, nil
}

func writeError(c *gin.Context, err error) {
	mapped := core.MapError(err)
	c.JSON(mapped.Code, gin.H{
		"error":     mapped.Message,
		"text_code": mapped.TextCode,
	})
}

func purgeDeliveries(ctx context.Context, logger core.Logger, store *sqlstore.WebhookDeliveryStore) {
	ticker := time.NewTicker(deliveryPurgePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.Purge(ctx)
			if err != nil {
				logger.Warn("delivery purge failed", "error", err.Error())
				continue
			}
			if purged > 0 {
				logger.Debug("delivery purge completed", "purged", purged)
			}
		}
	}
}
