package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MegaGrindStone/authentifi/internal/models"
)

func unavailableError(err error) error {
	return fmt.Errorf("%w: %w", models.ErrGatewayUnavailable, err)
}

func apiError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrGatewayError, fmt.Sprintf(format, args...))
}

func interruptedError(err error) error {
	if err == nil {
		return models.ErrStreamInterrupted
	}
	return fmt.Errorf("%w: %w", models.ErrStreamInterrupted, err)
}

// transportError classifies an error returned while sending a request. Context errors are passed
// through untouched so callers can tell cancellation apart from gateway failures.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return unavailableError(err)
}

// statusError classifies a non-200 response. Rate limits and other 4xx/5xx answers come from a
// reachable API, so they are application-level errors, except for gateway/proxy failures.
func statusError(code int, body string) error {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return unavailableError(fmt.Errorf("unexpected status code: %d, body: %s", code, body))
	}
	return apiError("unexpected status code: %d, body: %s", code, body)
}
