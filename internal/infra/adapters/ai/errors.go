package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"longform-pipeline/internal/domain"
)

// HTTPStatusError is returned by the raw HTTP adapters for non-2xx responses.
// Body is kept out of Error() so it never reaches job records.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d", e.StatusCode)
}

// KindFromStatus maps an HTTP status onto the provider error kinds.
func KindFromStatus(code int) domain.ProviderErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.KindUnauthorized
	case code == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.KindTimeout
	case code >= 500:
		return domain.KindUnavailable
	default:
		return domain.KindInvalidResponse
	}
}

// Classify turns any adapter error into a *domain.ProviderError.
// Adapters that understand their SDK errors return ProviderErrors already;
// this handles the generic transport and context cases.
func Classify(provider string, err error) *domain.ProviderError {
	if err == nil {
		return nil
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			cp := *pe
			cp.Provider = provider
			return &cp
		}
		return pe
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return &domain.ProviderError{Provider: provider, Kind: KindFromStatus(he.StatusCode), StatusCode: he.StatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(provider, domain.KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewProviderError(provider, domain.KindTimeout, err)
	}
	return domain.NewProviderError(provider, domain.KindUnavailable, err)
}

func invalidResponse(provider, msg string) *domain.ProviderError {
	return domain.NewProviderError(provider, domain.KindInvalidResponse, errors.New(msg))
}
