package webhooks

import (
	"net/http"

	"github.com/goliatone/go-connectors/core"
)

// ErrorBody is returned to callers for client errors.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse maps err to a status code. Server errors and authentication
// failures carry no body.
func ErrorResponse(err error) core.WebhookResponse {
	mapped := core.MapError(err)
	if mapped == nil {
		return core.WebhookResponse{StatusCode: http.StatusOK}
	}
	status := mapped.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	resp := core.WebhookResponse{StatusCode: status}
	if status >= http.StatusInternalServerError || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return resp
	}
	resp.Body = ErrorBody{Code: mapped.TextCode, Message: mapped.Message}
	return resp
}

func correlationView(result core.CorrelationResult) map[string]any {
	keys := make([]any, 0, len(result.ProcessInstanceKeys))
	for _, key := range result.ProcessInstanceKeys {
		keys = append(keys, key)
	}
	return map[string]any{
		"kind":                string(result.Kind),
		"started":             result.Started,
		"messageId":           result.MessageID,
		"processInstanceKeys": keys,
		"variables":           result.Variables,
	}
}
