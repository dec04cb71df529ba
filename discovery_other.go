//go:build !linux

package xdpbind

import (
	"context"
	"errors"
)

func (d *discovery) run(context.Context) error {
	return errors.New("interface discovery is only supported on linux")
}
