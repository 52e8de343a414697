package scanning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Categories of transport failure. Match them with errors.Is.
var (
	ErrRateLimited  = errors.New("too many requests, please wait a moment and try again")
	ErrUnauthorized = errors.New("model API key missing or invalid, check the server configuration")
	ErrNetwork      = errors.New("network error, please check the connection and try again")
	ErrAPI          = errors.New("failed to analyze bill, please try again")
)

// TransportError is a failed model call mapped to one of the categories above
type TransportError struct {
	Category   error
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Category, e.Message)
	}
	return e.Category.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) and friends match
func (e *TransportError) Is(target error) bool {
	return target == e.Category
}

// classifyStatus maps an HTTP status from a model API to a TransportError
func classifyStatus(code int, message string) *TransportError {
	te := &TransportError{StatusCode: code, Message: message, Category: ErrAPI}
	switch {
	case code == http.StatusTooManyRequests:
		te.Category = ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		te.Category = ErrUnauthorized
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		te.Category = ErrNetwork
	}
	te.Err = fmt.Errorf("model API returned status %d", code)
	return te
}

// classifyError maps a client-side error (no HTTP status available, or a
// googleapi error from the Gemini SDK) to a TransportError
func classifyError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		classified := classifyStatus(apiErr.Code, apiErr.Message)
		classified.Err = err
		return classified
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransportError{Category: ErrNetwork, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &TransportError{Category: ErrNetwork, Message: "request was canceled", Err: err}
	}

	return &TransportError{Category: ErrAPI, Message: err.Error(), Err: err}
}
