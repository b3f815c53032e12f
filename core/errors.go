package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorWebhookNotFound               = "WEBHOOK_NOT_FOUND"
	ErrorWebhookMethodNotAllowed       = "WEBHOOK_METHOD_NOT_ALLOWED"
	ErrorWebhookUnauthorized           = "WEBHOOK_UNAUTHORIZED"
	ErrorWebhookUnsupportedBody        = "WEBHOOK_UNSUPPORTED_BODY"
	ErrorWebhookBadBody                = "WEBHOOK_BAD_BODY"
	ErrorExpressionFailure             = "EXPRESSION_FAILURE"
	ErrorAmbiguousCorrelation          = "AMBIGUOUS_CORRELATION"
	ErrorTransportFailure              = "TRANSPORT_FAILURE"
	ErrorEngineThrottled               = "ENGINE_THROTTLED"
	ErrorActivationFailure             = "ACTIVATION_FAILURE"
	ErrorReconciliationInputViolation  = "RECONCILIATION_INPUT_VIOLATION"
	ErrorBadInput                      = "CONNECTORS_BAD_INPUT"
	ErrorInternal                      = "CONNECTORS_INTERNAL_ERROR"
	ErrorSubscriptionNotFound          = "SUBSCRIPTION_NOT_FOUND"
	ErrorExecutableFactoryNotAvailable = "EXECUTABLE_FACTORY_NOT_AVAILABLE"
)

func NewNotFoundError(contextPath string) *goerrors.Error {
	return goerrors.New("no webhook registered for this path", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorWebhookNotFound).
		WithMetadata(map[string]any{"context_path": contextPath})
}

func NewMethodNotAllowedError(method string) *goerrors.Error {
	return goerrors.New("method not allowed", goerrors.CategoryBadInput).
		WithCode(http.StatusMethodNotAllowed).
		WithTextCode(ErrorWebhookMethodNotAllowed).
		WithMetadata(map[string]any{"method": method})
}

// NewUnauthorizedError wraps the cause for logging only; the message never
// reflects request content.
func NewUnauthorizedError(cause error) *goerrors.Error {
	if cause == nil {
		cause = errors.New("webhook authentication failed")
	}
	return goerrors.Wrap(cause, goerrors.CategoryAuth, "unauthorized").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorWebhookUnauthorized)
}

func NewUnsupportedBodyError(contentType string) *goerrors.Error {
	return goerrors.New("unsupported content type", goerrors.CategoryBadInput).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorWebhookUnsupportedBody).
		WithMetadata(map[string]any{"content_type": contentType})
}

func NewBadBodyError(cause error) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryBadInput, "request body could not be decoded").
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorWebhookBadBody)
}

func NewExpressionError(expression string, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryValidation, "expression evaluation failed").
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorExpressionFailure).
		WithMetadata(map[string]any{"expression": expression})
}

func NewAmbiguousCorrelationError(point CorrelationPoint, matches int) *goerrors.Error {
	return goerrors.New("event matched more than one process instance", goerrors.CategoryConflict).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorAmbiguousCorrelation).
		WithMetadata(map[string]any{"point": point.String(), "matches": matches})
}

func NewTransportError(cause error) *goerrors.Error {
	if errors.Is(cause, ErrEngineThrottled) {
		return goerrors.Wrap(cause, goerrors.CategoryRateLimit, "process engine is throttling correlations").
			WithCode(http.StatusServiceUnavailable).
			WithTextCode(ErrorEngineThrottled)
	}
	message := "correlation sink failed"
	if errors.Is(cause, context.DeadlineExceeded) {
		message = "correlation sink timed out"
	}
	return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorTransportFailure)
}

func NewActivationError(key SubscriptionKey, cause error) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryOperation, "subscription activation failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorActivationFailure).
		WithMetadata(map[string]any{"subscription": key.String()})
}

func NewReconciliationInputError(ref ProcessDefinitionRef) *goerrors.Error {
	return goerrors.NewValidation("duplicate process definition version in batch",
		goerrors.FieldError{Field: "version", Message: ref.String()},
	).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorReconciliationInputViolation).
		WithSeverity(goerrors.SeverityError)
}

// MapError normalizes any error into the connectors error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransportError(err)
	case errors.Is(err, ErrInvalidCorrelationPoint), errors.Is(err, ErrInvalidProcessDefinitionReference):
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorSubscriptionNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorWebhookUnauthorized
	case goerrors.CategoryExternal:
		return ErrorTransportFailure
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HasTextCode reports whether err carries the given connectors text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}
