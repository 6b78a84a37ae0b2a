package network

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"flyingcarpet/internal/discovery"
	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/handshake"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
	"flyingcarpet/internal/wire"
)

// LAN finds the peer on a network both ends are already on. The host
// announces itself over mDNS under the network name and the client looks
// that name up, so no hotspot is created.
type LAN struct {
	Port int
	UI   ui.UI
	Log  *logrus.Entry

	advertise func(instance string, port int, iface string, txt []string, log *logrus.Entry) (*discovery.Beacon, error)
	lookup    func(ctx context.Context, instance, iface string, log *logrus.Entry) (*discovery.Entry, error)
}

func NewLAN(port int, sink ui.UI, log *logrus.Entry) *LAN {
	if port == 0 {
		port = wire.Port
	}
	return &LAN{
		Port:      port,
		UI:        sink,
		Log:       log,
		advertise: discovery.Advertise,
		lookup:    discovery.Lookup,
	}
}

func (l *LAN) ConnectToPeer(ctx context.Context, req Request) (*Resource, error) {
	if req.Role() == peer.Host {
		txt := []string{fmt.Sprintf("version=%d", handshake.MajorVersion), "os=" + string(req.LocalOS)}
		beacon, err := l.advertise(req.NetworkName, l.Port, req.Interface, txt, l.Log)
		if err != nil {
			return nil, apperr.Fatal(apperr.ErrTransport, "network", "Could not advertise on local network", err)
		}
		l.UI.Output(fmt.Sprintf("Waiting for peer on local network as %s", req.NetworkName))
		return &Resource{
			Role:        peer.Host,
			NetworkName: req.NetworkName,
			Interface:   req.Interface,
			release: func() error {
				beacon.Shutdown()
				return nil
			},
		}, nil
	}

	l.UI.Output(fmt.Sprintf("Looking for %s on local network", req.NetworkName))
	entry, err := l.lookup(ctx, req.NetworkName, req.Interface, l.Log)
	if err != nil {
		return nil, apperr.Fatal(apperr.ErrTransport, "network", "Could not find peer on local network", err)
	}
	return &Resource{
		Role:        peer.Client,
		Address:     entry.Addrs[0].String(),
		NetworkName: req.NetworkName,
		Interface:   req.Interface,
	}, nil
}

func (l *LAN) StopHotspot(res *Resource, _ string) error {
	return res.Release()
}
