//go:build !unix

package launcher

import (
	"context"
	"time"
)

// AlternateIdentity is not available on this platform
type AlternateIdentity struct {
	Timeout time.Duration
	TempDir string
}

// Launch always returns ErrUnsupported
func (AlternateIdentity) Launch(context.Context, Invocation) (Result, error) {
	return Result{ExitCode: -1}, ErrUnsupported
}
