// Package transport connects the connector runtime to the outside world:
// the HTTP client that hands correlations to the process engine and the
// gin handler that receives webhook requests.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-connectors/core"
)

const defaultEngineClientTimeout = 30 * time.Second
const defaultEngineResponseBodyLimit int64 = 1 << 20 // 1 MiB

// CorrelationsPath is appended to the engine base URL.
const CorrelationsPath = "/v1/correlations"

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ThrottlePolicy gates engine calls on the backpressure the engine reported
// for earlier responses.
type ThrottlePolicy interface {
	BeforeCall(ctx context.Context, key string) error
	AfterCall(ctx context.Context, key string, statusCode int, headers http.Header) error
}

// EngineClient posts correlation requests to the process engine as JSON.
// The engine answers 404 when no instance matches and 409 when several do.
type EngineClient struct {
	BaseURL              string
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Throttle             ThrottlePolicy
}

func NewEngineClient(baseURL string, client HTTPDoer) (*EngineClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: engine base url must be absolute",
			http.StatusBadRequest,
			map[string]any{"base_url": baseURL},
		)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultEngineClientTimeout}
	}
	return &EngineClient{
		BaseURL:              strings.TrimSuffix(parsed.String(), "/"),
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultEngineResponseBodyLimit,
	}, nil
}

type correlationPayload struct {
	TenantID            string         `json:"tenantId,omitempty"`
	ProcessID           string         `json:"processId"`
	Version             int            `json:"version"`
	DefinitionKey       int64          `json:"definitionKey"`
	ElementID           string         `json:"elementId"`
	PointKind           string         `json:"pointKind"`
	AttachedToElementID string         `json:"attachedToElementId,omitempty"`
	MessageName         string         `json:"messageName,omitempty"`
	CorrelationKey      string         `json:"correlationKey,omitempty"`
	MessageID           string         `json:"messageId,omitempty"`
	Variables           map[string]any `json:"variables"`
}

type correlationReply struct {
	MatchedInstances    int     `json:"matchedInstances"`
	ProcessInstanceKeys []int64 `json:"processInstanceKeys"`
	Started             bool    `json:"started"`
}

func (c *EngineClient) Correlate(ctx context.Context, req core.CorrelationRequest) (core.CorrelationOutcome, error) {
	if c == nil || c.Client == nil {
		return core.CorrelationOutcome{}, transportError(
			"transport: engine client requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	variables := req.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(correlationPayload{
		TenantID:            req.Definition.TenantID,
		ProcessID:           req.Definition.ProcessID,
		Version:             req.Definition.Version,
		DefinitionKey:       req.Definition.DefinitionKey,
		ElementID:           req.Point.ElementID,
		PointKind:           string(req.Point.Kind),
		AttachedToElementID: req.Point.AttachedToElementID,
		MessageName:         req.MessageName,
		CorrelationKey:      req.CorrelationKey,
		MessageID:           req.MessageID,
		Variables:           variables,
	})
	if err != nil {
		return core.CorrelationOutcome{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: encode correlation request",
			http.StatusBadRequest,
			map[string]any{"point": req.Point.String()},
		)
	}

	endpoint := c.BaseURL + CorrelationsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return core.CorrelationOutcome{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"url": endpoint},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if c.Throttle != nil {
		if err := c.Throttle.BeforeCall(ctx, c.BaseURL); err != nil {
			return core.CorrelationOutcome{}, err
		}
	}
	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		return core.CorrelationOutcome{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute correlation request",
			http.StatusBadGateway,
			map[string]any{"url": endpoint},
		)
	}
	defer httpRes.Body.Close()
	if c.Throttle != nil {
		// Backpressure bookkeeping never fails the correlation itself.
		_ = c.Throttle.AfterCall(ctx, c.BaseURL, httpRes.StatusCode, httpRes.Header)
	}

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultEngineResponseBodyLimit
	}
	raw, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return core.CorrelationOutcome{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read correlation response",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(raw)) > limit {
		return core.CorrelationOutcome{}, transportError(
			fmt.Sprintf("transport: correlation response exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}

	switch {
	case httpRes.StatusCode == http.StatusNotFound:
		return core.CorrelationOutcome{}, fmt.Errorf("%w: %s", core.ErrNoMatchingInstance, req.Point)
	case httpRes.StatusCode == http.StatusTooManyRequests:
		return core.CorrelationOutcome{}, fmt.Errorf("%w: engine responded with status %d", core.ErrEngineThrottled, httpRes.StatusCode)
	case httpRes.StatusCode == http.StatusConflict:
		reply := correlationReply{}
		_ = json.Unmarshal(raw, &reply)
		return core.CorrelationOutcome{MatchedInstances: reply.MatchedInstances},
			fmt.Errorf("%w: %s", core.ErrAmbiguousMatch, req.Point)
	case httpRes.StatusCode < 200 || httpRes.StatusCode > 299:
		return core.CorrelationOutcome{}, transportError(
			fmt.Sprintf("transport: engine responded with status %d", httpRes.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "body": truncate(string(raw), 256)},
		)
	}

	reply := correlationReply{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil {
			return core.CorrelationOutcome{}, transportWrapError(
				err,
				goerrors.CategoryExternal,
				"transport: decode correlation response",
				http.StatusBadGateway,
				map[string]any{"status_code": httpRes.StatusCode},
			)
		}
	}
	return core.CorrelationOutcome{
		MatchedInstances:    reply.MatchedInstances,
		ProcessInstanceKeys: reply.ProcessInstanceKeys,
		Started:             reply.Started,
	}, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

var _ core.CorrelationSink = (*EngineClient)(nil)
