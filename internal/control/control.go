// Package control implements the operator console, a line-oriented
// command dispatcher over stdin: no CLI framework, plain stdlib
// parsing and formatting, matching the zero-dependency status surface
// in internal/httpapi.
//
// The command table covers help, version, status, rooms, refresh,
// spam-limit, join-limit, blacklist, warn-deprecated, warn-closing,
// and say.
package control

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Core is the subset of relay.Relay the console needs. Kept as a narrow
// interface so this package never imports internal/relay directly,
// avoiding an import cycle with relay's own use of internal/control (if
// any is added later) and keeping the console testable against a fake.
type Core interface {
	Status() StatusView
	Stop()
	SetSpamLimit(n int)
	SetJoinLimit(n int)
	Blacklist(addr string, add bool)
	BlacklistType(typ string, add bool)
	SetWarnDeprecated(v bool)
	SetWarnClosing(v bool)
	Say(msg string)
	RefreshRoom(shortID string) bool
	RefreshList(typ string)
	Version() int32
}

// StatusView is the data Status() exposes; kept separate from
// relay.Status so the console doesn't need the room package either.
type StatusView struct {
	RoomCount       int
	ConnectionCount int
	Closing         bool
	Rooms           []RoomView
}

// RoomView is one line of `rooms` output.
type RoomView struct {
	ShortID     string
	Type        string
	Clients     int
	PacketsIn   uint64
	PacketsOut  uint64
}

// Console reads commands from r and writes replies to w until r is
// exhausted or a command asks to exit.
type Console struct {
	core Core
	log  *slog.Logger
	in   *bufio.Scanner
	out  io.Writer
}

// New creates a Console over the given reader/writer (normally
// os.Stdin/os.Stdout).
func New(core Core, log *slog.Logger, in io.Reader, out io.Writer) *Console {
	return &Console{core: core, log: log, in: bufio.NewScanner(in), out: out}
}

// Run blocks, dispatching one command per line, until EOF or `exit`.
func (c *Console) Run() {
	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		if c.dispatch(line) {
			return
		}
	}
}

func (c *Console) dispatch(line string) (exit bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		c.printHelp()
	case "version":
		fmt.Fprintf(c.out, "claj relay, protocol version %d\n", c.core.Version())
	case "status":
		c.printStatus()
	case "rooms":
		c.printRooms()
	case "exit", "stop":
		c.core.Stop()
		return true
	case "say":
		c.core.Say(strings.Join(args, " "))
	case "spam-limit":
		c.setIntArg(args, c.core.SetSpamLimit, "spam-limit")
	case "join-limit":
		c.setIntArg(args, c.core.SetJoinLimit, "join-limit")
	case "warn-deprecated":
		c.core.SetWarnDeprecated(!hasArg(args, "off"))
	case "warn-closing":
		c.core.SetWarnClosing(!hasArg(args, "off"))
	case "blacklist":
		c.handleBlacklist(args)
	case "refresh":
		c.handleRefresh(args)
	case "gc":
		fmt.Fprintln(c.out, "gc is not exposed in this relay; the Go runtime manages its own heap")
	default:
		fmt.Fprintf(c.out, "unknown command %q, try 'help'\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `commands:
  help                         show this message
  version                      print protocol version
  status                       room/connection counts
  rooms                        list live rooms with traffic counters
  say <message>                broadcast a toast to every room's host
  spam-limit <n>                set packets/3s per connection
  join-limit <n>                set joins/minute per address
  warn-deprecated [off]         toggle deprecated-client warnings
  warn-closing [off]            toggle shutdown warnings
  blacklist add|del addr <a>     blacklist/unblacklist an address
  blacklist add|del type <t>     blacklist/unblacklist a room type
  refresh room <shortID>        force a room's state to be re-requested
  refresh list <type>           force a type's listing cache to refresh
  exit                          stop the relay`)
}

func (c *Console) printStatus() {
	s := c.core.Status()
	fmt.Fprintf(c.out, "rooms=%d connections=%d closing=%v\n", s.RoomCount, s.ConnectionCount, s.Closing)
}

func (c *Console) printRooms() {
	s := c.core.Status()
	for _, rm := range s.Rooms {
		fmt.Fprintf(c.out, "%s type=%q clients=%d in=%d out=%d\n", rm.ShortID, rm.Type, rm.Clients, rm.PacketsIn, rm.PacketsOut)
	}
}

func (c *Console) setIntArg(args []string, set func(int), name string) {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "usage: %s <n>\n", name)
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "invalid number %q\n", args[0])
		return
	}
	set(n)
}

func (c *Console) handleBlacklist(args []string) {
	if len(args) != 3 || (args[0] != "add" && args[0] != "del") || (args[1] != "addr" && args[1] != "type") {
		fmt.Fprintln(c.out, "usage: blacklist add|del addr|type <value>")
		return
	}
	add := args[0] == "add"
	if args[1] == "addr" {
		c.core.Blacklist(args[2], add)
	} else {
		c.core.BlacklistType(args[2], add)
	}
}

func (c *Console) handleRefresh(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "usage: refresh room <shortID> | refresh list <type>")
		return
	}
	switch args[0] {
	case "room":
		if !c.core.RefreshRoom(args[1]) {
			fmt.Fprintf(c.out, "no room %q\n", args[1])
		}
	case "list":
		c.core.RefreshList(args[1])
	default:
		fmt.Fprintln(c.out, "usage: refresh room <shortID> | refresh list <type>")
	}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
