package xdpbind

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
)

var logFormats = []string{"text", "json"}

// configLogger applies the logging section to l. Binding lifecycle tracing is logged at debug, so raising the
// level through a reload turns it on for every binding at once.
func configLogger(l *logrus.Logger, c *config.C) error {
	logLevel, err := logrus.ParseLevel(strings.ToLower(c.GetString("logging.level", "info")))
	if err != nil {
		return fmt.Errorf("%s; possible levels: %s", err, logrus.AllLevels)
	}

	formatter, err := logFormatter(c)
	if err != nil {
		return err
	}

	old := l.GetLevel()
	l.SetLevel(logLevel)
	l.SetReportCaller(c.GetBool("logging.report_caller", false))
	l.Formatter = formatter

	if !c.InitialLoad() && old != logLevel {
		entry := l.WithField("from", old).WithField("to", logLevel)
		if logLevel >= logrus.DebugLevel && old < logrus.DebugLevel {
			entry.Info("Log level changed, binding lifecycle tracing enabled")
		} else {
			entry.Info("Log level changed")
		}
	}

	return nil
}

func logFormatter(c *config.C) (logrus.Formatter, error) {
	disableTimestamp := c.GetBool("logging.disable_timestamp", false)
	timestampFormat := c.GetString("logging.timestamp_format", "")
	fullTimestamp := timestampFormat != ""
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	switch logFormat := strings.ToLower(c.GetString("logging.format", "text")); logFormat {
	case "text":
		return &logrus.TextFormatter{
			TimestampFormat:  timestampFormat,
			FullTimestamp:    fullTimestamp,
			DisableTimestamp: disableTimestamp,
		}, nil
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat:  timestampFormat,
			DisableTimestamp: disableTimestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown log format `%s`. possible formats: %s", logFormat, logFormats)
	}
}
