package network

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

// Runner runs an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI hosts or joins a WPA2 hotspot through NetworkManager. The
// connection profile is named after the network so it can be deleted by
// name even if setup was interrupted.
type NMCLI struct {
	Run Runner
	UI  ui.UI
	Log *logrus.Entry
	// PollInterval paces gateway lookups after joining.
	PollInterval time.Duration
}

func NewNMCLI(sink ui.UI, log *logrus.Entry) *NMCLI {
	return &NMCLI{Run: ExecRunner, UI: sink, Log: log, PollInterval: 200 * time.Millisecond}
}

func (n *NMCLI) ConnectToPeer(ctx context.Context, req Request) (*Resource, error) {
	iface := req.Interface
	if iface == "" {
		ifaces, err := n.Interfaces(ctx)
		if err != nil {
			return nil, err
		}
		if len(ifaces) == 0 {
			return nil, apperr.Fatal(apperr.ErrConfiguration, "network", "no WiFi interface found", nil)
		}
		iface = ifaces[0]
	}
	ssid := req.NetworkName
	log := n.Log.WithFields(logrus.Fields{"interface": iface, "ssid": ssid})

	if req.Role() == peer.Host {
		n.UI.Output(fmt.Sprintf("Starting hotspot %s", ssid))
		log.Debug("starting hotspot")
		if err := n.runAll(ctx, "Could not start hotspot", hostCommands(ssid, req.Password, iface)); err != nil {
			return nil, err
		}
		return &Resource{Role: peer.Host, NetworkName: ssid, Interface: iface}, nil
	}

	n.UI.Output(fmt.Sprintf("Joining hotspot %s", ssid))
	log.Debug("joining hotspot")
	if err := n.runAll(ctx, "Error joining hotspot", joinCommands(ssid, req.Password, iface)); err != nil {
		return nil, err
	}
	gateway, err := n.waitForGateway(ctx, iface)
	if err != nil {
		return nil, err
	}
	log.WithField("gateway", gateway).Debug("found gateway")
	return &Resource{Role: peer.Client, Address: gateway, NetworkName: ssid, Interface: iface}, nil
}

func (n *NMCLI) StopHotspot(res *Resource, networkName string) error {
	if res != nil {
		networkName = res.NetworkName
	}
	if networkName == "" {
		return nil
	}
	out, err := n.Run(context.Background(), "nmcli", "connection", "delete", networkName)
	if err != nil {
		if strings.Contains(string(out), "unknown connection") {
			return nil
		}
		return apperr.Fatal(apperr.ErrTransport, "network", "Error stopping hotspot: "+strings.TrimSpace(string(out)), err)
	}
	return res.Release()
}

// Interfaces lists WiFi devices known to NetworkManager.
func (n *NMCLI) Interfaces(ctx context.Context) ([]string, error) {
	out, err := n.Run(ctx, "nmcli", "-t", "device")
	if err != nil {
		return nil, apperr.Fatal(apperr.ErrConfiguration, "network", "could not list network devices", err)
	}
	var ifaces []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) >= 2 && fields[1] == "wifi" {
			ifaces = append(ifaces, fields[0])
		}
	}
	return ifaces, nil
}

func (n *NMCLI) runAll(ctx context.Context, failure string, commands [][]string) error {
	for _, args := range commands {
		out, err := n.Run(ctx, "nmcli", args...)
		if err != nil {
			if ctx.Err() != nil {
				return apperr.Fatal(apperr.ErrTransport, "network", failure, ctx.Err())
			}
			return apperr.Fatal(apperr.ErrTransport, "network", fmt.Sprintf("%s: %s", failure, bytes.TrimSpace(out)), err)
		}
	}
	return nil
}

// waitForGateway polls until DHCP has handed the joined interface a
// default gateway, which is the hosting peer.
func (n *NMCLI) waitForGateway(ctx context.Context, iface string) (string, error) {
	var gateway string
	op := func() error {
		out, err := n.Run(ctx, "nmcli", "-g", "IP4.GATEWAY", "device", "show", iface)
		if err != nil {
			return backoff.Permanent(err)
		}
		gateway = strings.TrimSpace(string(out))
		if gateway == "" {
			return fmt.Errorf("no gateway on %s yet", iface)
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(n.PollInterval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", apperr.Fatal(apperr.ErrTransport, "network", "Could not find gateway", err)
	}
	return gateway, nil
}

func profileCommands(ssid, iface string) [][]string {
	return [][]string{
		{"con", "add", "type", "wifi", "ifname", iface, "con-name", ssid, "autoconnect", "yes", "ssid", ssid},
	}
}

func hostCommands(ssid, password, iface string) [][]string {
	return append(profileCommands(ssid, iface),
		[]string{"con", "modify", ssid, "802-11-wireless.mode", "ap", "ipv4.method", "shared"},
		[]string{"con", "modify", ssid, "wifi-sec.key-mgmt", "wpa-psk"},
		// no PMF, so WPA3/SAE stays off and older clients can join
		[]string{"con", "modify", ssid, "wifi-sec.pmf", "disable"},
		[]string{"con", "modify", ssid, "wifi-sec.pairwise", "ccmp"},
		[]string{"con", "modify", ssid, "wifi-sec.group", "ccmp"},
		[]string{"con", "modify", ssid, "wifi-sec.proto", "rsn"},
		[]string{"con", "modify", ssid, "wifi-sec.psk", password},
		[]string{"con", "up", ssid},
	)
}

func joinCommands(ssid, password, iface string) [][]string {
	return append(profileCommands(ssid, iface),
		[]string{"con", "modify", ssid, "wifi-sec.key-mgmt", "wpa-psk"},
		[]string{"con", "modify", ssid, "wifi-sec.psk", password},
		[]string{"con", "up", ssid},
	)
}
