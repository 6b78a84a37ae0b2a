// Package discovery advertises and finds Flying Carpet hosts on a network
// both peers already share, using mDNS. The instance name is the derived
// network name, so only a peer holding the same password finds the host.
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	ServiceType = "_flyingcarpet._tcp"
	Domain      = "local."
)

// Beacon is a registered mDNS service.
type Beacon struct {
	server *zeroconf.Server
}

// Advertise registers instance on port. If iface is non-empty only that
// interface answers queries.
func Advertise(instance string, port int, iface string, txt []string, log *logrus.Entry) (*Beacon, error) {
	ifaces, err := interfaces(iface)
	if err != nil {
		return nil, err
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, ifaces)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	log.WithFields(logrus.Fields{"instance": instance, "port": port}).Info("peer discovery beacon started")
	return &Beacon{server: server}, nil
}

func (b *Beacon) Shutdown() {
	if b != nil && b.server != nil {
		b.server.Shutdown()
		b.server = nil
	}
}

// Entry is a resolved host.
type Entry struct {
	Instance string
	HostName string
	Port     int
	Addrs    []net.IP
	Text     []string
}

// Lookup browses until a host named instance answers with an IPv4 address
// or ctx ends.
func Lookup(ctx context.Context, instance string, iface string, log *logrus.Entry) (*Entry, error) {
	var opts []zeroconf.ClientOption
	if iface != "" {
		ifaces, err := interfaces(iface)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize mDNS resolver: %w", err)
	}

	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Lookup(lookupCtx, instance, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("no host answered for %s", instance)
			}
			log.WithFields(logrus.Fields{"instance": entry.Instance, "host": entry.HostName}).Debug("mDNS answer")
			if entry.Instance != instance || len(entry.AddrIPv4) == 0 {
				continue
			}
			return &Entry{
				Instance: entry.Instance,
				HostName: entry.HostName,
				Port:     entry.Port,
				Addrs:    entry.AddrIPv4,
				Text:     entry.Text,
			}, nil
		}
	}
}

func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}
