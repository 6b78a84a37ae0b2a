// Package network acquires the link the transfer runs over: a hotspot this
// end hosts, a hotspot it joins, or a network both ends already share.
package network

import (
	"context"

	"flyingcarpet/internal/peer"
)

// Request is everything a provider needs to bring up or join the link.
type Request struct {
	LocalOS     peer.OS
	PeerOS      peer.OS
	Mode        peer.ModeKind
	NetworkName string
	Password    string
	// Interface is the WiFi interface to use. Empty lets the provider pick.
	Interface string
}

// Role applies the hosting rule to the request.
func (r Request) Role() peer.Role {
	return peer.RoleFor(r.LocalOS, r.PeerOS, r.Mode)
}

// Resource is an acquired link. A host listens on ListenAddress; a client
// dials Address, the host's IP.
type Resource struct {
	Role          peer.Role
	Address       string
	ListenAddress string
	NetworkName   string
	Interface     string

	release func() error
}

// Provider is implemented once per way of getting two peers onto the same
// network.
type Provider interface {
	// ConnectToPeer may block for as long as radios and DHCP take. It
	// returns when ctx ends.
	ConnectToPeer(ctx context.Context, req Request) (*Resource, error)
	// StopHotspot releases res. It is idempotent and accepts a nil res, in
	// which case whatever was started under networkName is cleaned up.
	StopHotspot(res *Resource, networkName string) error
}

// Release runs the resource's own cleanup, at most once.
func (r *Resource) Release() error {
	if r == nil || r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	return release()
}
