package peer

import (
	"fmt"
	"runtime"
	"strings"
)

// OS identifies a peer's platform. The string values are what travels over
// the Bluetooth OS characteristic and what users type for --peer.
type OS string

const (
	Android OS = "android"
	IOS     OS = "ios"
	Linux   OS = "linux"
	MacOS   OS = "mac"
	Windows OS = "windows"
)

func ParseOS(s string) (OS, error) {
	switch os := OS(strings.ToLower(strings.TrimSpace(s))); os {
	case Android, IOS, Linux, MacOS, Windows:
		return os, nil
	case "macos", "darwin":
		return MacOS, nil
	default:
		return "", fmt.Errorf("unknown peer OS %q, expected one of android, ios, linux, mac, windows", s)
	}
}

// LocalOS maps runtime.GOOS onto the peer OS names.
func LocalOS() (OS, error) {
	switch runtime.GOOS {
	case "linux":
		return Linux, nil
	case "windows":
		return Windows, nil
	case "darwin":
		return MacOS, nil
	case "android":
		return Android, nil
	case "ios":
		return IOS, nil
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

type ModeKind int

const (
	Receive ModeKind = iota
	Send
)

func (k ModeKind) String() string {
	if k == Send {
		return "send"
	}
	return "receive"
}

// Mode is the transfer direction this end selected, with its payload: the
// files to send or the directory to receive into.
type Mode struct {
	Kind  ModeKind
	Files []string
	Dir   string
}

func SendMode(files ...string) Mode {
	return Mode{Kind: Send, Files: files}
}

func ReceiveMode(dir string) Mode {
	return Mode{Kind: Receive, Dir: dir}
}

func (m Mode) String() string {
	return m.Kind.String()
}

// Role says whether this end hosts the ephemeral network and listens, or
// joins it and dials.
type Role int

const (
	Client Role = iota
	Host
)

func (r Role) String() string {
	if r == Host {
		return "host"
	}
	return "client"
}

// hostPriority ranks platforms by their ability to stand up a hotspot. The
// higher ranked end hosts.
var hostPriority = map[OS]int{
	Windows: 4,
	Linux:   3,
	Android: 2,
	MacOS:   1,
	IOS:     1,
}

// IsHosting decides, without talking to the peer, whether this end hosts.
// Both ends evaluate it with the arguments mirrored and always reach
// opposite answers: on equal rank the receiving side hosts.
func IsHosting(local, remote OS, mode ModeKind) bool {
	lp, rp := hostPriority[local], hostPriority[remote]
	if lp != rp {
		return lp > rp
	}
	return mode == Receive
}

// RoleFor is IsHosting expressed as a Role.
func RoleFor(local, remote OS, mode ModeKind) Role {
	if IsHosting(local, remote, mode) {
		return Host
	}
	return Client
}
