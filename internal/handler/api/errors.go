package api

import (
	"context"
	"errors"

	"ChainPulse/internal/domain/fault"
	xhttp "ChainPulse/pkg/http"
)

// queryError maps a read-model failure onto the response the client sees.
func queryError(what string, err error) *xhttp.AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.TimeoutError(what + " timed out").WithError(err)
	case fault.IsKind(err, fault.KindStore), fault.IsKind(err, fault.KindCancellation):
		return xhttp.UnavailableError(what + " unavailable").WithError(err)
	default:
		return xhttp.InternalError(what + " unavailable").WithError(err)
	}
}
