// Package handshake confirms, before any file data moves, that both peers
// speak compatible protocol versions and picked complementary modes.
//
// The client is the end that dialed, the host is the end that listened. The
// client always writes first in each phase so neither side can deadlock
// waiting on the other.
package handshake

import (
	"fmt"
	"io"
	"slices"

	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/wire"
)

// MajorVersion is the protocol version this build speaks.
const MajorVersion uint64 = 8

// CompatibilityTable maps a version to the older versions it still
// interoperates with. Only the higher-versioned end consults it.
type CompatibilityTable map[uint64][]uint64

// DefaultTable: version 8 is not compatible with anything before it.
var DefaultTable = CompatibilityTable{
	8: nil,
}

// Compatible reports whether higher accepts lower.
func (t CompatibilityTable) Compatible(higher, lower uint64) bool {
	if higher == lower {
		return true
	}
	return slices.Contains(t[higher], lower)
}

type Negotiator struct {
	Version uint64
	Table   CompatibilityTable
	Log     *logrus.Entry
}

func New(log *logrus.Entry) *Negotiator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Negotiator{Version: MajorVersion, Table: DefaultTable, Log: log}
}

// Run performs the version exchange and then the mode exchange.
func (n *Negotiator) Run(rw io.ReadWriter, role peer.Role, mode peer.ModeKind) error {
	if err := n.ConfirmVersion(rw, role); err != nil {
		return err
	}
	return n.ConfirmMode(rw, role, mode)
}

// ConfirmVersion exchanges versions. When they differ the higher end decides
// and writes its verdict (1 compatible, 0 not) for the lower end to read.
func (n *Negotiator) ConfirmVersion(rw io.ReadWriter, role peer.Role) error {
	var peerVersion uint64
	var err error
	if role == peer.Client {
		if err = wire.WriteUint64(rw, n.Version); err != nil {
			return ioError("writing version", err)
		}
		if peerVersion, err = wire.ReadUint64(rw); err != nil {
			return ioError("reading peer version", err)
		}
	} else {
		if peerVersion, err = wire.ReadUint64(rw); err != nil {
			return ioError("reading peer version", err)
		}
		if err = wire.WriteUint64(rw, n.Version); err != nil {
			return ioError("writing version", err)
		}
	}

	n.Log.WithFields(logrus.Fields{
		"role":         role.String(),
		"version":      n.Version,
		"peer_version": peerVersion,
	}).Debug("exchanged protocol versions")

	switch {
	case peerVersion < n.Version:
		ok := n.Table.Compatible(n.Version, peerVersion)
		if err := wire.WriteBool(rw, ok); err != nil {
			return ioError("writing version verdict", err)
		}
		if !ok {
			return incompatible(peerVersion)
		}
	case peerVersion > n.Version:
		verdict, err := wire.ReadUint64(rw)
		if err != nil {
			return ioError("reading version verdict", err)
		}
		if verdict == 0 {
			return incompatible(peerVersion)
		}
	}
	return nil
}

// ConfirmMode makes sure one end sends and the other receives. The host
// compares and reports back; a clash is a configuration error on both ends.
func (n *Negotiator) ConfirmMode(rw io.ReadWriter, role peer.Role, mode peer.ModeKind) error {
	ours := uint64(0)
	if mode == peer.Send {
		ours = 1
	}

	if role == peer.Client {
		if err := wire.WriteUint64(rw, ours); err != nil {
			return ioError("writing mode", err)
		}
		verdict, err := wire.ReadUint64(rw)
		if err != nil {
			return ioError("reading mode verdict", err)
		}
		if verdict != 1 {
			return sameMode(mode)
		}
		return nil
	}

	theirs, err := wire.ReadUint64(rw)
	if err != nil {
		return ioError("reading peer mode", err)
	}
	if theirs == ours {
		if err := wire.WriteBool(rw, false); err != nil {
			return ioError("writing mode verdict", err)
		}
		return sameMode(mode)
	}
	if err := wire.WriteBool(rw, true); err != nil {
		return ioError("writing mode verdict", err)
	}
	return nil
}

func ioError(what string, err error) error {
	return apperr.Fatal(apperr.ErrTransport, "handshake", "error "+what, err)
}

func incompatible(peerVersion uint64) error {
	msg := fmt.Sprintf("Peer's version %d not compatible, please update Flying Carpet to the latest version on both devices.", peerVersion)
	return apperr.Fatal(apperr.ErrCompatibility, "handshake", msg, nil)
}

func sameMode(mode peer.ModeKind) error {
	return apperr.Fatal(apperr.ErrConfiguration, "handshake", "Both ends of the transfer selected "+mode.String(), nil)
}
