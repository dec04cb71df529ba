package xdplink

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind"
)

const xdpPass = 2

var memlockOnce sync.Once
var memlockErr error

// NewFactory returns the provider factory handed to xdpbind.Main.
func NewFactory(l *logrus.Logger) xdpbind.ProviderFactory {
	return func(ifName string, ifIndex uint32, mode xdpbind.Mode) (xdpbind.Provider, error) {
		flags, err := attachFlags(mode)
		if err != nil {
			return nil, err
		}

		return &Provider{
			ifName: ifName,
			mode:   mode,
			flags:  flags,
			l:      l,
		}, nil
	}
}

func attachFlags(mode xdpbind.Mode) (link.XDPAttachFlags, error) {
	switch mode {
	case xdpbind.ModeGeneric:
		return link.XDPGenericMode, nil
	case xdpbind.ModeNative:
		return link.XDPDriverMode, nil
	default:
		return 0, fmt.Errorf("mode %s: %w", mode, xdpbind.ErrNotSupported)
	}
}

// Provider attaches one XDP program per open connection.
type Provider struct {
	ifName string
	mode   xdpbind.Mode
	flags  link.XDPAttachFlags
	l      *logrus.Logger
}

func passProgramSpec() *ebpf.ProgramSpec {
	return &ebpf.ProgramSpec{
		Name: "xdpbind_pass",
		Type: ebpf.XDP,
		Instructions: asm.Instructions{
			asm.Mov.Imm(asm.R0, xdpPass),
			asm.Return(),
		},
		License: "Dual MIT/GPL",
	}
}

func (p *Provider) OpenProvider(ifIndex uint32, instanceID uuid.UUID, detach func()) (xdpbind.ProviderBinding, error) {
	memlockOnce.Do(func() { memlockErr = rlimit.RemoveMemlock() })
	if memlockErr != nil {
		return nil, fmt.Errorf("failed to remove memlock limit: %w", memlockErr)
	}

	prog, err := ebpf.NewProgram(passProgramSpec())
	if err != nil {
		return nil, fmt.Errorf("failed to load xdp program: %w", err)
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: int(ifIndex),
		Flags:     p.flags,
	})
	if err != nil {
		prog.Close()
		return nil, fmt.Errorf("failed to attach xdp program to %s: %w", p.ifName, err)
	}

	entry := p.l.WithField("ifIndex", ifIndex).WithField("ifName", p.ifName).WithField("mode", p.mode).
		WithField("instanceId", instanceID)
	entry.Info("XDP program attached")

	return &connection{prog: prog, link: lnk, detach: detach, l: entry}, nil
}

// connection is one attached program. Close detaches asynchronously and acknowledges through detach.
type connection struct {
	prog      *ebpf.Program
	link      link.Link
	detach    func()
	closeOnce sync.Once
	l         *logrus.Entry
}

func (c *connection) GetInterfaceDispatch(v xdpbind.Version) (xdpbind.InterfaceDispatch, error) {
	return newDispatch(c.l, v)
}

func (c *connection) Close() {
	c.closeOnce.Do(func() {
		go func() {
			if err := c.link.Close(); err != nil {
				c.l.WithError(err).Error("Failed to detach xdp program")
			}
			c.detach()
		}()
	})
}

func (c *connection) Cleanup() {
	if err := c.prog.Close(); err != nil {
		c.l.WithError(err).Error("Failed to release xdp program")
	}
	c.l.Info("XDP program detached")
}
