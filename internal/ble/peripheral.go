package ble

import (
	"context"

	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

// Peripheral is the advertiser, used by the sending peer.
type Peripheral struct {
	transport PeripheralTransport
	localOS   peer.OS
	ui        ui.UI
	log       *logrus.Entry

	// generatePassword is swapped in tests.
	generatePassword func() (string, error)
	result           Result
}

func NewPeripheral(t PeripheralTransport, localOS peer.OS, sink ui.UI, log *logrus.Entry) *Peripheral {
	return &Peripheral{
		transport:        t,
		localOS:          localOS,
		ui:               sink,
		log:              log,
		generatePassword: keys.GeneratePassword,
	}
}

func (p *Peripheral) Negotiate(ctx context.Context) (Result, error) {
	p.ui.Output("Advertising Bluetooth service...")
	if err := p.transport.Advertise(ctx, ServiceUUID, string(p.localOS)); err != nil {
		return Result{}, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Could not advertise Bluetooth service", err)
	}
	defer func() {
		if err := p.transport.Stop(); err != nil {
			p.log.WithError(err).Warn("stopping bluetooth advertisement")
		}
	}()

	m := machine{ui: p.ui, log: p.log, step: p.step}
	if _, err := m.run(ctx, p.transport.Events(), AwaitAdvertising, Done); err != nil {
		return Result{}, err
	}
	return p.result, nil
}

// step moves the peripheral on after msg matched what st was waiting for.
func (p *Peripheral) step(st State, msg Message) (State, error) {
	switch st {
	case AwaitAdvertising:
		return WaitPeerOS, nil

	case WaitPeerOS:
		remote, err := peer.ParseOS(msg.Value)
		if err != nil {
			return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Peer reported an unknown OS", err)
		}
		p.result.PeerOS = remote
		if !peer.IsHosting(p.localOS, remote, peer.Send) {
			return WaitPeerWritesSSID, nil
		}
		password, err := p.generatePassword()
		if err != nil {
			return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Could not generate password", err)
		}
		_, name := keys.Derive(password)
		if err := p.transport.SetCredentials(name, password); err != nil {
			return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Could not publish network details", err)
		}
		p.result.NetworkName, p.result.Password = name, password
		p.log.Debug("set peripheral ssid and password, waiting for peer to read them")
		return WaitPeerReadSSID, nil

	case WaitPeerReadSSID:
		return WaitPeerReadPassword, nil
	case WaitPeerReadPassword:
		return Done, nil

	case WaitPeerWritesSSID:
		p.result.NetworkName = msg.Value
		return WaitPeerWritesPassword, nil
	case WaitPeerWritesPassword:
		p.result.Password = msg.Value
		return Done, nil
	}
	return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "peripheral reached invalid state "+st.String(), nil)
}
