package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type m = map[string]any

type testLogWriter struct {
	Logs []string
}

func (tl *testLogWriter) Write(p []byte) (n int, err error) {
	tl.Logs = append(tl.Logs, string(p))
	return len(p), nil
}

func (tl *testLogWriter) Reset() {
	tl.Logs = tl.Logs[:0]
}

func newTestLogger() (*logrus.Logger, *testLogWriter) {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	}
	tl := &testLogWriter{}
	l.Out = tl
	return l, tl
}

func TestContextualError_Log(t *testing.T) {
	l, tl := newTestLogger()

	tl.Reset()
	e := NewContextualError("provider open failed", m{"ifIndex": 3}, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"provider open failed\" error=error ifIndex=3\n"}, tl.Logs)

	tl.Reset()
	e = NewContextualError("provider open failed", nil, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"provider open failed\" error=error\n"}, tl.Logs)

	tl.Reset()
	e = NewContextualError("provider open failed", m{"ifIndex": 3}, nil)
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"provider open failed\" ifIndex=3\n"}, tl.Logs)

	tl.Reset()
	e = NewContextualError("", nil, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error error=error\n"}, tl.Logs)
}

func TestContextualError_Unwrap(t *testing.T) {
	sentinel := errors.New("delete pending")
	e := NewContextualError("reference failed", m{"ifIndex": 1}, fmt.Errorf("rundown: %w", sentinel))
	assert.ErrorIs(t, e, sentinel)
	assert.Equal(t, "reference failed (map[ifIndex:1]): rundown: delete pending", e.Error())

	e = NewContextualError("bare", nil, nil)
	assert.Equal(t, "bare", e.Error())
	assert.EqualError(t, e.Unwrap(), "bare")
}

func TestLogWithContextIfNeeded(t *testing.T) {
	l, tl := newTestLogger()

	tl.Reset()
	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	LogWithContextIfNeeded("This should get thrown away", e, l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	// A wrapped contextual error still logs its own context
	tl.Reset()
	LogWithContextIfNeeded("This should get thrown away", fmt.Errorf("outer: %w", e), l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	tl.Reset()
	err := fmt.Errorf("this is a normal error")
	LogWithContextIfNeeded("Fallback context woo", err, l)
	assert.Equal(t, []string{"level=error msg=\"Fallback context woo\" error=\"this is a normal error\"\n"}, tl.Logs)
}

func TestContextualizeIfNeeded(t *testing.T) {
	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	assert.Same(t, e, ContextualizeIfNeeded("should be ignored", e))

	err := fmt.Errorf("this is a normal error")
	cErr := ContextualizeIfNeeded("Fallback context woo", err)

	var v *ContextualError
	if assert.ErrorAs(t, cErr, &v) {
		assert.Equal(t, err, v.RealError)
		assert.Equal(t, "Fallback context woo", v.Context)
	}
}
