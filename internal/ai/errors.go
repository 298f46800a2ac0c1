package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/openai/openai-go/v3"
)

var (
	// Ошибки конфигурации: фатальны, возвращаются до любого сетевого запроса.
	ErrMissingCredential = errors.New("openai api key is not set")
	ErrMissingAssistant  = errors.New("assistant id is not set")

	ErrRunFailed      = errors.New("assistant run failed")
	ErrRunTimeout     = errors.New("assistant run timeout")
	ErrEmptyAnswer    = errors.New("no assistant message found")
	ErrStreamConsumed = errors.New("answer stream already consumed")
)

// IsConfigError сообщает, что ошибка вызвана конфигурацией, а не провайдером.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrMissingAssistant)
}

// RunFailedError: run завершился неуспешным терминальным статусом. Не ретраится.
type RunFailedError struct {
	RunID   string
	Status  RunStatus
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("assistant run %s ended with status %s", e.RunID, e.Status)
	if e.Code != "" || e.Message != "" {
		msg += fmt.Sprintf(": %s %s", e.Code, e.Message)
	}
	return msg
}

func (e *RunFailedError) Is(target error) bool { return target == ErrRunFailed }

// RequestError: ошибка обращения к провайдеру на шаге Op.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// IsRetryable сообщает, имеет ли смысл повторить запрос: сетевые сбои,
// 408/409/429 и 5xx от API. Неуспешный run, отмена и ошибки конфигурации: нет.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRunFailed) || errors.Is(err, ErrRunTimeout) || IsConfigError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return code >= http.StatusInternalServerError
}
