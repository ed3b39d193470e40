//go:build !linux

package radio

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"peerlink/network"
)

// NewBlueZ is only available on linux.
func NewBlueZ(_ *zap.Logger) (Provider, error) {
	return nil, fmt.Errorf("%w: no radio stack on %s", network.ErrProviderUnavailable, runtime.GOOS)
}
