package web

import (
	"context"
	"errors"
	"net/http"

	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/service/chat"
	"AssistantGateway/internal/service/upload"
)

// Коды ошибок в теле ответа.
const (
	codeConfiguration       = "configuration_error"
	codeRunFailed           = "run_failed"
	codeRunTimeout          = "run_timeout"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeUpstream            = "upstream_error"
	codeCancelled           = "cancelled"
	codeInFlight            = "exchange_in_flight"
	codeNotFound            = "session_not_found"
	codeBadRequest          = "bad_request"
	codeInternal            = "internal_error"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

// classify сопоставляет ошибку HTTP-статусу и телу ответа.
// Для сбоев ассистента пользователю показывается apology.
func classify(err error, apology string) (int, errorBody) {
	body := errorBody{Detail: err.Error()}
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		body.Error, body.Message = codeNotFound, "session not found"
		return http.StatusNotFound, body
	case errors.Is(err, chat.ErrExchangeInFlight):
		body.Error, body.Message, body.Retryable = codeInFlight, "previous message is still being processed", true
		return http.StatusConflict, body
	case errors.Is(err, chat.ErrEmptySubmission),
		errors.Is(err, upload.ErrEmptyFile),
		errors.Is(err, upload.ErrMissingName),
		errors.Is(err, upload.ErrUnsupportedContent):
		body.Error, body.Message = codeBadRequest, err.Error()
		return http.StatusBadRequest, body
	case errors.Is(err, chat.ErrExchangeCancelled), errors.Is(err, context.Canceled):
		body.Error, body.Message = codeCancelled, "request cancelled"
		return http.StatusConflict, body
	case ai.IsConfigError(err):
		body.Error, body.Message = codeConfiguration, "assistant is not configured"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, ai.ErrRunFailed):
		body.Error, body.Message = codeRunFailed, apology
		return http.StatusBadGateway, body
	case errors.Is(err, ai.ErrRunTimeout):
		body.Error, body.Message, body.Retryable = codeRunTimeout, apology, true
		return http.StatusGatewayTimeout, body
	case ai.IsRetryable(err):
		body.Error, body.Message, body.Retryable = codeUpstreamUnavailable, apology, true
		return http.StatusServiceUnavailable, body
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) || errors.Is(err, ai.ErrEmptyAnswer) {
		body.Error, body.Message = codeUpstream, apology
		return http.StatusBadGateway, body
	}
	body.Error, body.Message = codeInternal, apology
	return http.StatusInternalServerError, body
}

func badRequest(msg string) errorBody {
	return errorBody{Error: codeBadRequest, Message: msg}
}
