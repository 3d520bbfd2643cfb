package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hamzalsheikh/howl/pkg/version"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FailurePolicy decides what a heartbeat loop does when a ping fails.
type FailurePolicy int

const (
	// FailStop ends the loop on the first failed ping.
	FailStop FailurePolicy = iota
	// FailRetry retries the same identity with backoff. Rejections by the
	// registry end the loop at once.
	FailRetry
	// FailReregister asks for a fresh identity with backoff and keeps going
	// with it.
	FailReregister
)

func (p FailurePolicy) String() string {
	switch p {
	case FailStop:
		return "stop"
	case FailRetry:
		return "retry"
	case FailReregister:
		return "reregister"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop":
		return FailStop, nil
	case "retry":
		return FailRetry, nil
	case "reregister", "re-register":
		return FailReregister, nil
	default:
		return FailStop, fmt.Errorf("unknown heartbeat failure policy %q", s)
	}
}

// isRejection reports whether the registry refused the identity itself, as
// opposed to the ping getting lost on the way.
func isRejection(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated:
		return true
	}
	return false
}

// permanentFor returns the errors no amount of retrying fixes under p.
func permanentFor(p FailurePolicy) func(error) bool {
	if p == FailReregister {
		return version.IsMismatch
	}
	return isRejection
}

func defaultBackoff(interval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval / 4
		if b.InitialInterval <= 0 {
			b.InitialInterval = backoff.DefaultInitialInterval
		}
		b.MaxInterval = 4 * interval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}
