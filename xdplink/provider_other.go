//go:build !linux

package xdplink

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind"
)

// NewFactory returns a factory that fails every build, XDP is linux only.
func NewFactory(*logrus.Logger) xdpbind.ProviderFactory {
	return func(ifName string, _ uint32, _ xdpbind.Mode) (xdpbind.Provider, error) {
		return nil, fmt.Errorf("xdp on %s: %w", ifName, xdpbind.ErrNotSupported)
	}
}
