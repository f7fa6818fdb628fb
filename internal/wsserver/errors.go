package wsserver

import (
	"errors"

	"github.com/keskad/xpressnet-gateway/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrUpgrade   = errors.New("upgrade")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrWSRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrWSWrite
	case errors.Is(err, ErrUpgrade):
		return metrics.ErrWSUpgrade
	case errors.Is(err, ErrListen):
		return metrics.ErrWSUpgrade
	default:
		return "other"
	}
}
