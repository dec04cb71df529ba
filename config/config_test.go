package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slackhq/xdpbind/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadString(t *testing.T) {
	l := test.NewLogger()

	c := NewC(l)
	assert.Error(t, c.LoadString(" invalid yaml"))
	assert.Error(t, c.LoadString())

	// later documents override earlier ones and lists are appended
	c = NewC(l)
	require.NoError(t, c.LoadString(
		"registry:\n  max_bindings: 2\ndiscovery:\n  interfaces: [eth0]",
		"registry:\n  max_bindings: 8\ndiscovery:\n  interfaces: [eth1]",
	))
	assert.Equal(t, 8, c.GetInt("registry.max_bindings", 0))
	assert.Equal(t, []string{"eth1", "eth0"}, c.GetStringSlice("discovery.interfaces", nil))
}

func TestConfig_Load(t *testing.T) {
	l := test.NewLogger()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00-base.yaml"), []byte("logging:\n  level: info\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-override.yaml"), []byte("logging:\n  level: debug\n"), 0600))

	c := NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, "debug", c.GetString("logging.level", ""))
	assert.True(t, c.InitialLoad())
}

func TestConfig_Get(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["registry"] = map[string]any{"max_bindings": "hi"}
	assert.Equal(t, "hi", c.Get("registry.max_bindings"))

	inner := []map[string]any{{"name": "eth0"}}
	c.Settings["discovery"] = map[string]any{"interfaces": inner}
	assert.EqualValues(t, inner, c.Get("discovery.interfaces"))

	assert.Nil(t, c.Get("registry.nope"))
	assert.False(t, c.IsSet("registry.nope"))
	assert.True(t, c.IsSet("registry.max_bindings"))
}

func TestConfig_GetStringTime(t *testing.T) {
	c := NewC(test.NewLogger())
	require.NoError(t, c.LoadString("logging:\n  timestamp_format: 2006-01-02\n"))
	assert.Equal(t, "2006-01-02", c.GetString("logging.timestamp_format", ""))

	c.Settings["stamps"] = map[string]any{
		"at":   time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		"list": []any{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "x"},
	}
	assert.Equal(t, "2024-03-01T10:30:00Z", c.GetString("stamps.at", ""))
	assert.Equal(t, []string{"2024-03-01", "x"}, c.GetStringSlice("stamps.list", nil))
}

func TestConfig_GetInt(t *testing.T) {
	c := NewC(test.NewLogger())
	c.Settings["registry"] = map[string]any{"max_bindings": 12, "bad": "twelve"}
	assert.Equal(t, 12, c.GetInt("registry.max_bindings", 1))
	assert.Equal(t, 1, c.GetInt("registry.bad", 1))
	assert.Equal(t, 7, c.GetInt("registry.missing", 7))
}

func TestConfig_GetDuration(t *testing.T) {
	c := NewC(test.NewLogger())
	c.Settings["stats"] = map[string]any{"interval": "10s"}
	assert.Equal(t, 10*time.Second, c.GetDuration("stats.interval", 0))
	assert.Equal(t, time.Minute, c.GetDuration("stats.missing", time.Minute))
}

func TestConfig_GetBool(t *testing.T) {
	c := NewC(test.NewLogger())

	for v, expected := range map[any]bool{
		true: true, "true": true, false: false, "false": false,
		"Y": true, "yEs": true, "N": false, "nO": false,
	} {
		c.Settings["bool"] = v
		assert.Equal(t, expected, c.GetBool("bool", !expected), "value %v", v)
	}
}

func TestConfig_HasChanged(t *testing.T) {
	l := test.NewLogger()
	// No reload has occurred, return false
	c := NewC(l)
	c.Settings["test"] = "hi"
	assert.False(t, c.HasChanged(""))

	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "no"}
	assert.True(t, c.HasChanged("test"))
	assert.True(t, c.HasChanged(""))

	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "hi"}
	assert.False(t, c.HasChanged("test"))
	assert.False(t, c.HasChanged(""))
}

func TestConfig_ReloadConfigString(t *testing.T) {
	l := test.NewLogger()
	done := make(chan bool, 1)

	c := NewC(l)
	require.NoError(t, c.LoadString("outer:\n  inner: hi"))

	assert.False(t, c.HasChanged("outer.inner"))
	assert.False(t, c.HasChanged(""))

	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	require.NoError(t, c.ReloadConfigString("outer:\n  inner: ho"))
	assert.True(t, c.HasChanged("outer.inner"))
	assert.True(t, c.HasChanged("outer"))
	assert.False(t, c.InitialLoad())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reload callback was not called")
	}
}
