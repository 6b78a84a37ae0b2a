package ble

import (
	"context"

	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

// Result is what negotiation hands to the session: the same three values a
// user would otherwise type in.
type Result struct {
	PeerOS      peer.OS
	NetworkName string
	Password    string
}

// Negotiator picks the BLE role from the transfer mode. The sending peer
// advertises and the receiving peer scans, independent of who will host the
// network afterwards.
type Negotiator struct {
	LocalOS    peer.OS
	Peripheral PeripheralTransport
	Central    CentralTransport
	Approver   Approver
	UI         ui.UI
	Log        *logrus.Entry
}

func (n *Negotiator) Negotiate(ctx context.Context, mode peer.ModeKind) (Result, error) {
	log := n.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("phase", "bluetooth")
	sink := n.UI
	if sink == nil {
		sink = ui.Nop{}
	}

	if mode == peer.Send {
		if n.Peripheral == nil {
			return Result{}, apperr.Fatal(apperr.ErrConfiguration, "bluetooth", "Bluetooth peripheral role is not available on this device", nil)
		}
		return NewPeripheral(n.Peripheral, n.LocalOS, sink, log).Negotiate(ctx)
	}

	if n.Central == nil {
		return Result{}, apperr.Fatal(apperr.ErrConfiguration, "bluetooth", "Bluetooth central role is not available on this device", nil)
	}
	approver := n.Approver
	if approver == nil {
		approver = AutoApprove(true)
	}
	return NewCentral(n.Central, approver, n.LocalOS, sink, log).Negotiate(ctx)
}
