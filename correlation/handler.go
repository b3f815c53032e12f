// Package correlation turns a decoded inbound payload into a correlation
// against the process engine.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-connectors/core"
)

const defaultTimeout = 10 * time.Second

type Handler struct {
	sink      core.CorrelationSink
	evaluator core.Evaluator
	timeout   time.Duration
	observer  core.Observer
}

type Option func(*Handler)

func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(h *Handler) {
		h.observer = observer
	}
}

func NewHandler(sink core.CorrelationSink, evaluator core.Evaluator, opts ...Option) (*Handler, error) {
	if sink == nil {
		return nil, fmt.Errorf("correlation: sink is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("correlation: evaluator is required")
	}
	h := &Handler{
		sink:      sink,
		evaluator: evaluator,
		timeout:   defaultTimeout,
		observer:  core.NewObserver("connectors.correlation", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Correlate evaluates the activation condition of sub against payload, maps
// the variables and hands the request to the sink. A false condition yields
// condition_not_met; a message event without a matching instance yields
// unmatched. Both are returned without error. Multiple matches for a message
// event return an ambiguous result together with an error.
func (h *Handler) Correlate(ctx context.Context, sub core.InboundSubscription, payload map[string]any) (result core.CorrelationResult, err error) {
	startedAt := time.Now()
	result = core.CorrelationResult{Point: sub.Point}
	defer func() {
		h.observer.Observe(ctx, startedAt, "correlate", err, map[string]any{
			"process_id":     sub.Definition.ProcessID,
			"version":        sub.Definition.Version,
			"definition_key": sub.Definition.DefinitionKey,
			"point_kind":     string(sub.Point.Kind),
			"element_id":     sub.Point.ElementID,
			"outcome":        string(result.Kind),
		})
	}()

	if condition := sub.Config.ActivationCondition(); condition != "" {
		ok, evalErr := h.evaluator.EvaluateBool(condition, payload)
		if evalErr != nil {
			return result, core.NewExpressionError(condition, evalErr)
		}
		if !ok {
			result.Kind = core.CorrelationConditionNotMet
			return result, nil
		}
	}

	variables, err := h.variables(sub.Config, payload)
	if err != nil {
		return result, err
	}
	result.Variables = variables

	req := core.CorrelationRequest{
		Definition:  sub.Definition,
		Point:       sub.Point,
		MessageName: sub.Config.MessageName(),
		Variables:   variables,
	}
	if req.CorrelationKey, err = h.text(sub.Config.CorrelationKeyExpression(), payload); err != nil {
		return result, err
	}
	if sub.Point.RequiresExistingInstance() && req.CorrelationKey == "" {
		return result, core.NewExpressionError(core.PropertyCorrelationKey, fmt.Errorf("correlation key is required for %s", sub.Point.Kind))
	}
	if req.MessageID, err = h.text(sub.Config.MessageIDExpression(), payload); err != nil {
		return result, err
	}
	result.MessageID = req.MessageID

	outcome, err := h.send(ctx, req)
	return h.outcome(sub.Point, result, outcome, err)
}

type sinkReply struct {
	outcome core.CorrelationOutcome
	err     error
}

// send bounds the sink call by the handler timeout even when the sink ignores
// its context. A reply that is already available wins over the deadline.
func (h *Handler) send(ctx context.Context, req core.CorrelationRequest) (core.CorrelationOutcome, error) {
	sinkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	replies := make(chan sinkReply, 1)
	go func() {
		outcome, err := h.sink.Correlate(sinkCtx, req)
		replies <- sinkReply{outcome: outcome, err: err}
	}()

	select {
	case reply := <-replies:
		return reply.outcome, reply.err
	case <-sinkCtx.Done():
		select {
		case reply := <-replies:
			return reply.outcome, reply.err
		default:
			return core.CorrelationOutcome{}, sinkCtx.Err()
		}
	}
}

func (h *Handler) outcome(point core.CorrelationPoint, result core.CorrelationResult, outcome core.CorrelationOutcome, err error) (core.CorrelationResult, error) {
	switch {
	case errors.Is(err, core.ErrNoMatchingInstance):
		outcome = core.CorrelationOutcome{}
	case errors.Is(err, core.ErrAmbiguousMatch):
		if outcome.MatchedInstances < 2 {
			outcome.MatchedInstances = 2
		}
	case err != nil:
		return result, core.NewTransportError(err)
	}

	result.ProcessInstanceKeys = append([]int64(nil), outcome.ProcessInstanceKeys...)
	result.Started = outcome.Started
	switch {
	case outcome.MatchedInstances == 0 && !point.RequiresExistingInstance():
		result.Kind = core.CorrelationCorrelated
		result.Started = true
	case outcome.MatchedInstances == 0:
		result.Kind = core.CorrelationUnmatched
	case outcome.MatchedInstances > 1 && point.RequiresExistingInstance():
		result.Kind = core.CorrelationAmbiguous
		return result, core.NewAmbiguousCorrelationError(point, outcome.MatchedInstances)
	default:
		result.Kind = core.CorrelationCorrelated
	}
	return result, nil
}

// variables applies the configured mapping: a result expression must yield
// an object, a result variable wraps the whole payload, otherwise nothing is
// passed to the process.
func (h *Handler) variables(cfg core.SubscriptionConfig, payload map[string]any) (map[string]any, error) {
	if resultExpression := cfg.ResultExpression(); resultExpression != "" {
		out, err := h.evaluator.Evaluate(resultExpression, payload)
		if err != nil {
			return nil, core.NewExpressionError(resultExpression, err)
		}
		switch typed := out.(type) {
		case nil:
			return map[string]any{}, nil
		case map[string]any:
			return typed, nil
		default:
			return nil, core.NewExpressionError(resultExpression, fmt.Errorf("result expression returned %T, want object", out))
		}
	}
	if resultVariable := cfg.ResultVariable(); resultVariable != "" {
		return map[string]any{resultVariable: payload}, nil
	}
	return map[string]any{}, nil
}

func (h *Handler) text(expression string, payload map[string]any) (string, error) {
	if expression == "" {
		return "", nil
	}
	out, err := h.evaluator.Evaluate(expression, payload)
	if err != nil {
		return "", core.NewExpressionError(expression, err)
	}
	if out == nil {
		return "", nil
	}
	return fmt.Sprint(out), nil
}
