// Package config holds the relay's runtime configuration, populated from
// the environment. There is no config-file parser; callers that want one
// can build a Config value themselves and skip FromEnv.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the relay's effective configuration (not its source
// representation).
type Config struct {
	Addr string // host:port for the combined TCP/UDP listener

	SpamLimit int           // packets / 3s; 0 disables
	JoinLimit int           // joins / minute per address
	InfoLimit int           // info requests / 3s per address
	ListLimit int           // list requests / 3s per address

	StateTimeout  time.Duration
	StateLifetime time.Duration
	ListTimeout   time.Duration
	ListLifetime  time.Duration
	CloseWait     time.Duration
	IdleTimeout   time.Duration // no inbound packet from a connection for this long ⇒ idle

	WarnClosing    bool
	AcceptNoType   bool
	WarnDeprecated bool

	BlacklistedTypes map[string]struct{}
	Blacklist        map[string]struct{}

	MaxPendingConnections int // cap on live connections; new ones are refused at this count (0 disables)

	ServerVersion int32
}

// Default returns the relay's default configuration.
func Default() Config {
	return Config{
		Addr:                  ":27600",
		SpamLimit:             60,
		JoinLimit:             20,
		InfoLimit:             10,
		ListLimit:             5,
		StateTimeout:          5 * time.Second,
		StateLifetime:         10 * time.Second,
		ListTimeout:           5 * time.Second,
		ListLifetime:          10 * time.Second,
		CloseWait:             5 * time.Second,
		IdleTimeout:           15 * time.Second,
		WarnClosing:           true,
		AcceptNoType:          true,
		WarnDeprecated:        true,
		BlacklistedTypes:      make(map[string]struct{}),
		Blacklist:             make(map[string]struct{}),
		MaxPendingConnections: 4096,
		ServerVersion:         1,
	}
}

// FromEnv overlays environment variables onto Default() for every
// configurable field.
func FromEnv() Config {
	c := Default()
	if v := os.Getenv("CLAJ_ADDR"); v != "" {
		c.Addr = v
	}
	if v := envInt("CLAJ_SPAM_LIMIT"); v != nil {
		c.SpamLimit = *v
	}
	if v := envInt("CLAJ_JOIN_LIMIT"); v != nil {
		c.JoinLimit = *v
	}
	if v := envInt("CLAJ_INFO_LIMIT"); v != nil {
		c.InfoLimit = *v
	}
	if v := envInt("CLAJ_LIST_LIMIT"); v != nil {
		c.ListLimit = *v
	}
	if v := envDuration("CLAJ_STATE_TIMEOUT"); v != nil {
		c.StateTimeout = *v
	}
	if v := envDuration("CLAJ_STATE_LIFETIME"); v != nil {
		c.StateLifetime = *v
	}
	if v := envDuration("CLAJ_LIST_TIMEOUT"); v != nil {
		c.ListTimeout = *v
	}
	if v := envDuration("CLAJ_LIST_LIFETIME"); v != nil {
		c.ListLifetime = *v
	}
	if v := envDuration("CLAJ_CLOSE_WAIT"); v != nil {
		c.CloseWait = *v
	}
	if v := envDuration("CLAJ_IDLE_TIMEOUT"); v != nil {
		c.IdleTimeout = *v
	}
	if v := envBool("CLAJ_WARN_CLOSING"); v != nil {
		c.WarnClosing = *v
	}
	if v := envBool("CLAJ_ACCEPT_NO_TYPE"); v != nil {
		c.AcceptNoType = *v
	}
	if v := envBool("CLAJ_WARN_DEPRECATED"); v != nil {
		c.WarnDeprecated = *v
	}
	if v := os.Getenv("CLAJ_BLACKLISTED_TYPES"); v != "" {
		c.BlacklistedTypes = toSet(v)
	}
	if v := os.Getenv("CLAJ_BLACKLIST"); v != "" {
		c.Blacklist = toSet(v)
	}
	return c
}

func toSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func envInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envDuration(key string) *time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil
	}
	return &d
}

func envBool(key string) *bool {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
