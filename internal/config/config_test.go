package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xpdustry/claj/internal/config"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	c := config.Default()
	assert.Equal(t, ":27600", c.Addr)
	assert.Equal(t, 60, c.SpamLimit)
	assert.Equal(t, 10, c.InfoLimit)
	assert.Equal(t, 4096, c.MaxPendingConnections)
	assert.True(t, c.WarnClosing)
	assert.True(t, c.WarnDeprecated)
}

func TestFromEnvOverlaysOntoDefaults(t *testing.T) {
	t.Setenv("CLAJ_ADDR", ":9999")
	t.Setenv("CLAJ_SPAM_LIMIT", "10")
	t.Setenv("CLAJ_STATE_TIMEOUT", "2s")
	t.Setenv("CLAJ_WARN_CLOSING", "false")
	t.Setenv("CLAJ_BLACKLIST", "1.2.3.4, 5.6.7.8 ,")

	c := config.FromEnv()

	assert.Equal(t, ":9999", c.Addr)
	assert.Equal(t, 10, c.SpamLimit)
	assert.Equal(t, 2*time.Second, c.StateTimeout)
	assert.False(t, c.WarnClosing)
	assert.Equal(t, 20, c.JoinLimit, "unset fields keep their default")

	_, ok1 := c.Blacklist["1.2.3.4"]
	_, ok2 := c.Blacklist["5.6.7.8"]
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Len(t, c.Blacklist, 2, "blank entries from trailing commas should be dropped")
}

func TestFromEnvIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("CLAJ_SPAM_LIMIT", "not-a-number")
	t.Setenv("CLAJ_STATE_TIMEOUT", "not-a-duration")
	t.Setenv("CLAJ_WARN_CLOSING", "not-a-bool")

	c := config.FromEnv()
	def := config.Default()

	assert.Equal(t, def.SpamLimit, c.SpamLimit)
	assert.Equal(t, def.StateTimeout, c.StateTimeout)
	assert.Equal(t, def.WarnClosing, c.WarnClosing)
}
