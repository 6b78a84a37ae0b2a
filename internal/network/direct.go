package network

import (
	"context"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/peer"
)

// Direct is for peers that can already reach each other, such as two
// machines on one wired LAN or two processes on one host. Nothing is
// started or stopped.
type Direct struct {
	// PeerAddress is dialed when this end is the client.
	PeerAddress string
	// ListenAddress is bound when this end hosts. Empty means all
	// interfaces.
	ListenAddress string
}

func (d Direct) ConnectToPeer(ctx context.Context, req Request) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Resource{Role: req.Role(), NetworkName: req.NetworkName, Interface: req.Interface}
	if res.Role == peer.Host {
		res.ListenAddress = d.ListenAddress
		return res, nil
	}
	if d.PeerAddress == "" {
		return nil, apperr.Fatal(apperr.ErrConfiguration, "network", "no peer address configured for direct connection", nil)
	}
	res.Address = d.PeerAddress
	return res, nil
}

func (d Direct) StopHotspot(res *Resource, _ string) error {
	return res.Release()
}
