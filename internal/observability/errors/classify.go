package errors

import (
	"context"
	goerrors "errors"
	"net"
	"net/url"

	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
)

// Error classes reported for errors that carry no application code.
const (
	ClassCanceled = "canceled"
	ClassTimeout  = "timeout"
	ClassNetwork  = "network"
	ClassUnknown  = "unknown"
)

// Classify returns a low-cardinality label for err, suitable for metric tags.
// Application errors report their code.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}

	switch {
	case goerrors.Is(err, context.Canceled):
		return ClassCanceled
	case goerrors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	var urlErr *url.Error
	if goerrors.As(err, &urlErr) {
		return ClassNetwork
	}
	return ClassUnknown
}
