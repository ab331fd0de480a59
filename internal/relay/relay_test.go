package relay

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/xpdustry/claj/internal/conn"
)

type fakeSender struct{ addr net.Addr }

func (f *fakeSender) Send(isTCP bool, data []byte) error { return nil }
func (f *fakeSender) Close() error                       { return nil }
func (f *fakeSender) RemoteAddr() net.Addr                { return f.addr }

func TestWindowLimitZeroOrNegativeIsUnlimited(t *testing.T) {
	assert.Equal(t, rate.Inf, windowLimit(0, time.Minute))
	assert.Equal(t, rate.Inf, windowLimit(-5, time.Minute))
}

func TestWindowLimitConvertsCountPerWindowToPerSecond(t *testing.T) {
	got := windowLimit(60, time.Minute)
	assert.InDelta(t, 1.0, float64(got), 1e-9, "60 per minute should be 1 per second")
}

func TestAddrKeyStripsPort(t *testing.T) {
	c := conn.New(1, &fakeSender{addr: &net.TCPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 4444}}, 0)
	assert.Equal(t, "203.0.113.5", addrKey(c))
}

func TestAddrKeyFallsBackToRawStringWhenUnparsable(t *testing.T) {
	c := conn.New(1, &fakeSender{addr: unparsableAddr{}}, 0)
	assert.Equal(t, "not-a-host-port", addrKey(c))
}

type unparsableAddr struct{}

func (unparsableAddr) Network() string { return "fake" }
func (unparsableAddr) String() string  { return "not-a-host-port" }
