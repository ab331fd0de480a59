package control_test

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpdustry/claj/internal/control"
)

type fakeCore struct {
	status        control.StatusView
	stopped       bool
	spamLimit     int
	joinLimit     int
	blacklisted   map[string]bool
	blacklistedT  map[string]bool
	warnDep       bool
	warnClose     bool
	said          []string
	refreshedRoom []string
	refreshedList []string
	refreshRoomOK bool
	version       int32
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		blacklisted:  make(map[string]bool),
		blacklistedT: make(map[string]bool),
		version:      3,
	}
}

func (f *fakeCore) Status() control.StatusView         { return f.status }
func (f *fakeCore) Stop()                              { f.stopped = true }
func (f *fakeCore) SetSpamLimit(n int)                 { f.spamLimit = n }
func (f *fakeCore) SetJoinLimit(n int)                 { f.joinLimit = n }
func (f *fakeCore) Blacklist(addr string, add bool)    { f.blacklisted[addr] = add }
func (f *fakeCore) BlacklistType(typ string, add bool) { f.blacklistedT[typ] = add }
func (f *fakeCore) SetWarnDeprecated(v bool)           { f.warnDep = v }
func (f *fakeCore) SetWarnClosing(v bool)              { f.warnClose = v }
func (f *fakeCore) Say(msg string)                     { f.said = append(f.said, msg) }
func (f *fakeCore) RefreshRoom(shortID string) bool {
	f.refreshedRoom = append(f.refreshedRoom, shortID)
	return f.refreshRoomOK
}
func (f *fakeCore) RefreshList(typ string) { f.refreshedList = append(f.refreshedList, typ) }
func (f *fakeCore) Version() int32         { return f.version }

func run(t *testing.T, core control.Core, input string) string {
	t.Helper()
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := control.New(core, log, strings.NewReader(input), &out)
	c.Run()
	return out.String()
}

func TestVersionPrintsCoreVersion(t *testing.T) {
	core := newFakeCore()
	out := run(t, core, "version\n")
	assert.Contains(t, out, "protocol version 3")
}

func TestStatusPrintsCounts(t *testing.T) {
	core := newFakeCore()
	core.status = control.StatusView{RoomCount: 2, ConnectionCount: 5, Closing: true}
	out := run(t, core, "status\n")
	assert.Contains(t, out, "rooms=2")
	assert.Contains(t, out, "connections=5")
	assert.Contains(t, out, "closing=true")
}

func TestExitStopsCoreAndEndsRun(t *testing.T) {
	core := newFakeCore()
	run(t, core, "exit\nstatus\n") // status must never run
	assert.True(t, core.stopped)
}

func TestSayJoinsArgsIntoOneMessage(t *testing.T) {
	core := newFakeCore()
	run(t, core, "say server restarting soon\n")
	require.Len(t, core.said, 1)
	assert.Equal(t, "server restarting soon", core.said[0])
}

func TestSpamLimitSetsValue(t *testing.T) {
	core := newFakeCore()
	run(t, core, "spam-limit 42\n")
	assert.Equal(t, 42, core.spamLimit)
}

func TestSpamLimitRejectsBadInput(t *testing.T) {
	core := newFakeCore()
	out := run(t, core, "spam-limit not-a-number\n")
	assert.Contains(t, out, "invalid number")
	assert.Equal(t, 0, core.spamLimit)
}

func TestWarnDeprecatedTogglesOffOnly(t *testing.T) {
	core := newFakeCore()
	run(t, core, "warn-deprecated off\n")
	assert.False(t, core.warnDep)

	run(t, core, "warn-deprecated\n")
	assert.True(t, core.warnDep)
}

func TestBlacklistAddrAndType(t *testing.T) {
	core := newFakeCore()
	run(t, core, "blacklist add addr 1.2.3.4\nblacklist del type mindustry\n")
	assert.True(t, core.blacklisted["1.2.3.4"])
	assert.False(t, core.blacklistedT["mindustry"])
}

func TestBlacklistRejectsMalformedUsage(t *testing.T) {
	core := newFakeCore()
	out := run(t, core, "blacklist add addr\n")
	assert.Contains(t, out, "usage: blacklist")
	assert.Empty(t, core.blacklisted)
}

func TestRefreshRoomReportsUnknownRoom(t *testing.T) {
	core := newFakeCore()
	core.refreshRoomOK = false
	out := run(t, core, "refresh room abc\n")
	assert.Contains(t, out, `no room "abc"`)
	assert.Equal(t, []string{"abc"}, core.refreshedRoom)
}

func TestRefreshListDelegatesToCore(t *testing.T) {
	core := newFakeCore()
	run(t, core, "refresh list mindustry\n")
	assert.Equal(t, []string{"mindustry"}, core.refreshedList)
}

func TestUnknownCommandSuggestsHelp(t *testing.T) {
	core := newFakeCore()
	out := run(t, core, "frobnicate\n")
	assert.Contains(t, out, "unknown command")
	assert.Contains(t, out, "try 'help'")
}

func TestBlankLinesAreIgnored(t *testing.T) {
	core := newFakeCore()
	out := run(t, core, "\n   \nversion\n")
	assert.Contains(t, out, "protocol version")
}
