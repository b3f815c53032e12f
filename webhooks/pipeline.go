package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

const DeduplicatedHeader = "X-Delivery-Deduplicated"

// OutcomeHeader tells the caller what the correlation did, so an unmatched
// message is distinguishable from a correlated one without a body.
const OutcomeHeader = "X-Correlation-Outcome"

// SubscriptionLookup resolves the active subscription behind a context path.
type SubscriptionLookup interface {
	FindByContextPath(path string) (core.InboundSubscription, bool)
}

type Correlator interface {
	Correlate(ctx context.Context, sub core.InboundSubscription, payload map[string]any) (core.CorrelationResult, error)
}

type Pipeline struct {
	lookup        SubscriptionLookup
	correlator    Correlator
	evaluator     core.Evaluator
	ledger        DeliveryLedger
	lease         time.Duration
	dedupeHeaders []string
	observer      core.Observer
}

type PipelineOption func(*Pipeline)

// WithDeliveryLedger enables deduplication of deliveries that carry an id.
func WithDeliveryLedger(ledger DeliveryLedger, lease time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.ledger = ledger
		if lease > 0 {
			p.lease = lease
		}
	}
}

// WithDedupeHeaders sets the headers read, in order, for a delivery id when
// the subscription has no message id expression.
func WithDedupeHeaders(headers ...string) PipelineOption {
	return func(p *Pipeline) {
		p.dedupeHeaders = p.dedupeHeaders[:0]
		for _, header := range headers {
			if header = strings.TrimSpace(header); header != "" {
				p.dedupeHeaders = append(p.dedupeHeaders, header)
			}
		}
	}
}

func WithPipelineObserver(observer core.Observer) PipelineOption {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

func NewPipeline(lookup SubscriptionLookup, correlator Correlator, evaluator core.Evaluator, opts ...PipelineOption) (*Pipeline, error) {
	if lookup == nil {
		return nil, fmt.Errorf("webhooks: subscription lookup is required")
	}
	if correlator == nil {
		return nil, fmt.Errorf("webhooks: correlator is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("webhooks: evaluator is required")
	}
	p := &Pipeline{
		lookup:        lookup,
		correlator:    correlator,
		evaluator:     evaluator,
		lease:         DefaultDeliveryLease,
		dedupeHeaders: []string{"Idempotency-Key", "X-Delivery-Id", "X-Request-Id"},
		observer:      core.NewObserver("connectors.webhooks", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Process handles one delivery end to end. Failures are returned as a
// status code and body, never as an error.
func (p *Pipeline) Process(ctx context.Context, req core.WebhookRequest) (resp core.WebhookResponse) {
	startedAt := time.Now()
	fields := map[string]any{
		"context_path": normalizeContextPath(req.ContextPath),
		"method":       strings.ToUpper(req.Method),
	}
	var err error
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: panic while processing delivery: %v", recovered)
			resp = core.WebhookResponse{StatusCode: http.StatusInternalServerError}
		}
		fields["status_code"] = resp.StatusCode
		p.observer.Observe(ctx, startedAt, "webhook.process", err, fields)
	}()

	resp, err = p.process(ctx, req, fields)
	if err != nil {
		resp = ErrorResponse(err)
	}
	return resp
}

func (p *Pipeline) process(ctx context.Context, req core.WebhookRequest, fields map[string]any) (core.WebhookResponse, error) {
	path := normalizeContextPath(req.ContextPath)
	sub, ok := p.lookup.FindByContextPath(path)
	if !ok {
		return core.WebhookResponse{}, core.NewNotFoundError(path)
	}
	trigger, ok := sub.Executable.(Trigger)
	if !ok {
		return core.WebhookResponse{}, core.NewNotFoundError(path)
	}
	fields["process_id"] = sub.Definition.ProcessID
	fields["version"] = sub.Definition.Version
	fields["point_kind"] = string(sub.Point.Kind)

	delivery, err := trigger.Trigger(ctx, req)
	if err != nil {
		return core.WebhookResponse{}, err
	}
	if delivery.Response != nil {
		fields["verification"] = true
		return *delivery.Response, nil
	}

	claimID, accepted, err := p.claim(ctx, sub, delivery.View, req.Headers)
	if err != nil {
		return core.WebhookResponse{}, err
	}
	if !accepted {
		fields["deduplicated"] = true
		return core.WebhookResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{DeduplicatedHeader: "true"},
		}, nil
	}

	result, err := p.correlator.Correlate(ctx, sub, delivery.View)
	fields["outcome"] = string(result.Kind)
	if err != nil {
		p.release(ctx, claimID, err)
		return core.WebhookResponse{}, err
	}
	p.complete(ctx, claimID)
	return p.compose(delivery, result)
}

func (p *Pipeline) compose(delivery Delivery, result core.CorrelationResult) (core.WebhookResponse, error) {
	headers := map[string]string{OutcomeHeader: string(result.Kind)}
	expression := delivery.ResponseBodyExpression
	if expression == "" {
		return core.WebhookResponse{StatusCode: http.StatusOK, Headers: headers}, nil
	}
	vars := map[string]any{
		"request":     delivery.View["request"],
		"correlation": correlationView(result),
	}
	body, err := p.evaluator.Evaluate(expression, vars)
	if err != nil {
		return core.WebhookResponse{}, core.NewExpressionError(expression, err)
	}
	return core.WebhookResponse{StatusCode: http.StatusOK, Headers: headers, Body: body}, nil
}

// claim reserves the delivery id in the ledger. Deliveries without an id
// are never deduplicated.
func (p *Pipeline) claim(ctx context.Context, sub core.InboundSubscription, view map[string]any, headers map[string]string) (string, bool, error) {
	if p.ledger == nil {
		return "", true, nil
	}
	id := p.deliveryID(sub, view, headers)
	if id == "" {
		return "", true, nil
	}
	claimID, accepted, err := p.ledger.Claim(ctx, sub.ContextPath+":"+id, p.lease)
	if err != nil {
		return "", false, core.MapError(fmt.Errorf("webhooks: claim delivery: %w", err))
	}
	return claimID, accepted, nil
}

func (p *Pipeline) deliveryID(sub core.InboundSubscription, view map[string]any, headers map[string]string) string {
	if expression := sub.Config.MessageIDExpression(); expression != "" {
		// The correlation handler reports evaluation failures.
		if out, err := p.evaluator.Evaluate(expression, view); err == nil && out != nil {
			if id := strings.TrimSpace(fmt.Sprint(out)); id != "" {
				return id
			}
		}
	}
	for _, header := range p.dedupeHeaders {
		if id := headerValue(headers, header); id != "" {
			return id
		}
	}
	return ""
}

func (p *Pipeline) complete(ctx context.Context, claimID string) {
	if p.ledger == nil || claimID == "" {
		return
	}
	if err := p.ledger.Complete(ctx, claimID); err != nil {
		p.observer.LogWarn(ctx, "complete delivery claim failed", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}

func (p *Pipeline) release(ctx context.Context, claimID string, cause error) {
	if p.ledger == nil || claimID == "" {
		return
	}
	if err := p.ledger.Fail(ctx, claimID, cause); err != nil {
		p.observer.LogWarn(ctx, "release delivery claim failed", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}
