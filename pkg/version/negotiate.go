package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMismatch is matched by every *MismatchError.
var ErrMismatch = errors.New("version mismatch")

// MismatchError reports incompatible protocol versions. It is terminal:
// the two ends cannot agree without a redeploy.
type MismatchError struct {
	Local  string
	Remote string // empty when the remote rejected us without echoing
	Err    error  // the rejecting rpc error, if any
}

func (e *MismatchError) Error() string {
	if e.Remote == "" {
		if e.Err != nil {
			return fmt.Sprintf("version mismatch: local %q rejected by remote: %v", e.Local, e.Err)
		}
		return fmt.Sprintf("version mismatch: local %q rejected by remote", e.Local)
	}
	return fmt.Sprintf("version mismatch: local %q, remote %q", e.Local, e.Remote)
}

func (e *MismatchError) Unwrap() error { return e.Err }

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// IsMismatch reports whether err is, or wraps, a version mismatch.
func IsMismatch(err error) bool {
	return errors.Is(err, ErrMismatch)
}

// Validate compares remote against the local protocol version.
func Validate(remote string) error {
	return match(Version(), remote)
}

func match(local, remote string) error {
	if local != remote {
		return &MismatchError{Local: local, Remote: remote}
	}
	return nil
}

// Negotiate asks the registry behind conn to validate our version and checks
// the version it echoes. Rpc failures other than a rejection are returned
// unchanged.
func Negotiate(ctx context.Context, conn grpc.ClientConnInterface) (string, error) {
	return negotiate(ctx, howlpb.NewVersionServiceClient(conn), Version())
}

func negotiate(ctx context.Context, client howlpb.VersionServiceClient, local string) (string, error) {
	res, err := client.Validate(ctx, howlpb.NewVersionRequest(local))
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return "", &MismatchError{Local: local, Err: err}
		}
		return "", err
	}
	remote := res.GetValue()
	if err := match(local, remote); err != nil {
		return "", err
	}
	return remote, nil
}
