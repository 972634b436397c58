package llm

import (
	"context"
	"errors"
	"net"
)

// IsTimeout reports whether err represents a deadline or network timeout
// rather than a hard backend failure. Callers use this to decide whether an
// attempt budget was consumed by a slow backend or by a broken one.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
