package xdpbind

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
	"github.com/slackhq/xdpbind/util"
	"go.yaml.in/yaml/v3"
)

type m = map[string]any

const defaultEmitInterval = 10 * time.Second

// Main builds everything described by c without starting it, see Control.Start. factory may be nil when
// discovery is disabled.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, factory ProviderFactory) (*Control, error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically cancel the context if Main returns an error, to signal all created goroutines to quit.
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	r, err := NewRegistryFromConfig(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to build the interface registry", err)
	}

	d, err := newDiscoveryFromConfig(l, c, r, factory)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure interface discovery", err)
	}

	statsStart, interval, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}
	if interval == 0 {
		interval = defaultEmitInterval
	}

	if configTest {
		return nil, nil
	}

	ctrl := &Control{
		l:            l,
		c:            c,
		r:            r,
		discovery:    d,
		statsStart:   statsStart,
		emitInterval: interval,
		ctx:          ctx,
		cancel:       cancel,
	}

	// The context now belongs to the Control
	cancel = nil
	return ctrl, nil
}
