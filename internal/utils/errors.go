package utils

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/mahirjain10/image-variants/internal/types"
)

// IsTransientError decides whether a failed job is worth requeueing.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if types.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset")
}

// IsFatalError reports infrastructure failures that should stop the worker
// rather than fail a single job.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := strings.ToLower(err.Error())

	// RabbitMQ connection issues
	if strings.Contains(errorStr, "connection closed") || strings.Contains(errorStr, "channel closed") {
		return true
	}

	// System resource issues
	if strings.Contains(errorStr, "no space left") || strings.Contains(errorStr, "out of memory") {
		return true
	}
	return false
}
