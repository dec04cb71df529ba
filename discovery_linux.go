package xdpbind

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// run follows rtnetlink link updates until ctx is done. Existing links are reported first.
func (d *discovery) run(ctx context.Context) error {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	defer close(done)

	err := netlink.LinkSubscribeWithOptions(updates, done, netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			d.l.WithError(err).Error("Link subscription error")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("link subscription closed")
			}
			d.handleUpdate(u)
		}
	}
}

func (d *discovery) handleUpdate(u netlink.LinkUpdate) {
	attrs := u.Link.Attrs()
	ifIndex := uint32(attrs.Index)

	switch u.Header.Type {
	case unix.RTM_NEWLINK:
		d.addLink(attrs.Name, ifIndex, attrs.Flags&net.FlagLoopback != 0)
	case unix.RTM_DELLINK:
		d.removeLink(ifIndex)
	}
}
