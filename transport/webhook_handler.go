package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-connectors/core"
)

// ContextParam is the route parameter holding the webhook context path.
const ContextParam = "context"

const defaultMaxBodyBytes int64 = 1 << 20

// WebhookProcessor runs one inbound webhook request. *webhooks.Pipeline
// satisfies it.
type WebhookProcessor interface {
	Process(ctx context.Context, req core.WebhookRequest) core.WebhookResponse
}

// WebhookHandler exposes a WebhookProcessor on a gin router. Every HTTP
// method is routed so the executable can answer 405 itself.
type WebhookHandler struct {
	processor    WebhookProcessor
	maxBodyBytes int64
	now          func() time.Time
}

type HandlerOption func(*WebhookHandler)

func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *WebhookHandler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *WebhookHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewWebhookHandler(processor WebhookProcessor, opts ...HandlerOption) (*WebhookHandler, error) {
	if processor == nil {
		return nil, fmt.Errorf("transport: webhook processor is required")
	}
	h := &WebhookHandler{
		processor:    processor,
		maxBodyBytes: defaultMaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the handler under basePath/:context.
func (h *WebhookHandler) Register(routes gin.IRoutes, basePath string) {
	routes.Any(path.Join("/", basePath, ":"+ContextParam), h.Handle)
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusBadRequest)
		return
	}

	req := core.WebhookRequest{
		ContextPath: c.Param(ContextParam),
		Method:      c.Request.Method,
		Headers:     flattenHeaders(c.Request.Header),
		Query:       flattenQuery(c.Request.URL.Query()),
		Body:        body,
		ReceivedAt:  h.now(),
	}
	writeResponse(c, h.processor.Process(c.Request.Context(), req))
}

func writeResponse(c *gin.Context, resp core.WebhookResponse) {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	contentType := ""
	for key, value := range resp.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if strings.EqualFold(key, "Content-Type") {
			contentType = value
			continue
		}
		c.Header(key, value)
	}

	switch body := resp.Body.(type) {
	case nil:
		c.Status(status)
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(status, contentType, body)
	case string:
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		c.Data(status, contentType, []byte(body))
	default:
		if contentType != "" {
			c.Header("Content-Type", contentType)
		}
		c.JSON(status, body)
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func flattenQuery(values map[string][]string) map[string]string {
	flat := make(map[string]string, len(values))
	for key, entries := range values {
		if len(entries) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = entries[0]
	}
	return flat
}
