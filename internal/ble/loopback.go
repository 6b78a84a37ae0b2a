package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Loopback is an in-memory BLE link between one peripheral and one central.
// It behaves like a GATT server and client on two radios: the central finds
// the service only once it is advertised, pairing goes through a PIN, and
// credentials read before they are set come back as NoValue.
type Loopback struct {
	// PIN is shown to the central when pairing. Defaults to "123456".
	PIN string
	// Paired makes Pair report AlreadyPaired.
	Paired bool
	// FailPairing makes Pair report PairFailure.
	FailPairing bool

	mu          sync.Mutex
	advertised  chan struct{}
	advertising bool
	localOS     string
	ssid        string
	password    string
	paired      bool
	unpairs     int
	peripheral  chan Message
	central     chan Message
}

func NewLoopback() *Loopback {
	return &Loopback{
		PIN:        "123456",
		advertised: make(chan struct{}),
		peripheral: make(chan Message, 16),
		central:    make(chan Message, 16),
	}
}

// Unpairs reports how many times the central unpaired.
func (l *Loopback) Unpairs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unpairs
}

func (l *Loopback) Peripheral() PeripheralTransport { return loopPeripheral{l} }
func (l *Loopback) Central() CentralTransport       { return loopCentral{l} }

type loopPeripheral struct{ l *Loopback }

func (p loopPeripheral) Advertise(_ context.Context, service uuid.UUID, localOS string) error {
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if service != ServiceUUID {
		return fmt.Errorf("unknown service %s", service)
	}
	if l.advertising {
		return errors.New("already advertising")
	}
	l.advertising = true
	l.localOS = localOS
	close(l.advertised)
	l.peripheral <- Message{Kind: StartedAdvertising}
	return nil
}

func (p loopPeripheral) SetCredentials(ssid, password string) error {
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ssid, l.password = ssid, password
	return nil
}

func (p loopPeripheral) Events() <-chan Message { return p.l.peripheral }

func (p loopPeripheral) Stop() error {
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	return nil
}

type loopCentral struct{ l *Loopback }

func (c loopCentral) Scan(ctx context.Context, service uuid.UUID) (Device, error) {
	if service != ServiceUUID {
		return Device{}, fmt.Errorf("unknown service %s", service)
	}
	select {
	case <-ctx.Done():
		return Device{}, ctx.Err()
	case <-c.l.advertised:
		return Device{ID: "loopback", Name: "Flying Carpet"}, nil
	}
}

func (c loopCentral) Pair(_ context.Context, dev Device) error {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if dev.ID != "loopback" {
		return fmt.Errorf("unknown device %q", dev.ID)
	}
	switch {
	case l.Paired:
		l.paired = true
		l.central <- Message{Kind: AlreadyPaired}
	case l.FailPairing:
		l.central <- Message{Kind: PairFailure}
	default:
		l.central <- Message{Kind: Pin, Value: l.PIN}
	}
	return nil
}

func (c loopCentral) ConfirmPin(approved bool) error {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if !approved {
		l.central <- Message{Kind: UserCanceled}
		return nil
	}
	l.paired = true
	l.central <- Message{Kind: PairApproved}
	l.central <- Message{Kind: PairSuccess}
	return nil
}

func (c loopCentral) DiscoverCharacteristics(_ context.Context, service uuid.UUID) error {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paired {
		return errors.New("not paired")
	}
	if !l.advertising || service != ServiceUUID {
		return fmt.Errorf("service %s not found", service)
	}
	return nil
}

func (c loopCentral) Read(_ context.Context, characteristic uuid.UUID) (string, error) {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	switch characteristic {
	case OSCharacteristicUUID:
		return l.localOS, nil
	case SSIDCharacteristicUUID:
		if l.ssid == "" {
			return NoValue, nil
		}
		l.peripheral <- Message{Kind: PeerReadSSID}
		return l.ssid, nil
	case PasswordCharacteristicUUID:
		if l.password == "" {
			return NoValue, nil
		}
		l.peripheral <- Message{Kind: PeerReadPassword}
		return l.password, nil
	}
	return "", fmt.Errorf("unknown characteristic %s", characteristic)
}

func (c loopCentral) Write(_ context.Context, characteristic uuid.UUID, value string) error {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	switch characteristic {
	case OSCharacteristicUUID:
		l.peripheral <- Message{Kind: PeerOS, Value: value}
	case SSIDCharacteristicUUID:
		l.peripheral <- Message{Kind: SSID, Value: value}
	case PasswordCharacteristicUUID:
		l.peripheral <- Message{Kind: Password, Value: value}
	default:
		return fmt.Errorf("unknown characteristic %s", characteristic)
	}
	return nil
}

func (c loopCentral) Unpair() error {
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paired = false
	l.unpairs++
	return nil
}

func (c loopCentral) Events() <-chan Message { return c.l.central }

func (c loopCentral) Stop() error { return nil }
