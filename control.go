package xdpbind

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
	"golang.org/x/sync/errgroup"
)

// Control is the running daemon. Every value it returns is a copy, never a live core object.
type Control struct {
	l            *logrus.Logger
	c            *config.C
	r            *Registry
	discovery    *discovery
	statsStart   func(ctx context.Context) error
	emitInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	eg       *errgroup.Group
	egCtx    context.Context
	stopOnce sync.Once
}

// Start runs discovery and stats, this is a nonblocking call. To block use Control.ShutdownBlock()
func (c *Control) Start() {
	c.eg, c.egCtx = errgroup.WithContext(c.ctx)

	c.c.CatchHUP(c.egCtx)

	if c.discovery != nil {
		c.eg.Go(func() error {
			return c.discovery.run(c.egCtx)
		})
	}

	if c.statsStart != nil {
		c.eg.Go(func() error {
			return c.statsStart(c.egCtx)
		})
	}

	c.eg.Go(func() error {
		c.emitStats(c.egCtx)
		return nil
	})
}

func (c *Control) emitStats(ctx context.Context) {
	ticker := time.NewTicker(c.emitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.r.EmitStats()
		}
	}
}

// Stop signals the daemon to shutdown, returns after every discovered interface has been removed
func (c *Control) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()

		if c.eg != nil {
			if err := c.eg.Wait(); err != nil {
				c.l.WithError(err).Error("Background routine failed")
			}
		}

		if c.discovery != nil {
			c.discovery.removeAll()
		}

		c.r.Stop()
		c.l.Info("Goodbye")
	})
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled.
// A failing background routine also ends the block.
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)

	done := c.ctx.Done()
	if c.egCtx != nil {
		done = c.egCtx.Done()
	}

	select {
	case rawSig := <-sigChan:
		c.l.WithField("signal", rawSig.String()).Info("Caught signal, shutting down")
	case <-done:
		c.l.Info("Background routine exited, shutting down")
	}

	c.Stop()
}

// Registry exposes the interface registry for providers and consumers living in the same process.
func (c *Control) Registry() *Registry {
	return c.r
}

// ListBindings returns a snapshot of every registered binding
func (c *Control) ListBindings() []BindingInfo {
	return c.r.ListBindings()
}
