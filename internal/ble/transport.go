package ble

import (
	"context"

	"github.com/google/uuid"
)

// PeripheralTransport is the advertising side of a BLE adapter. Reads and
// writes made by the remote central are reported on Events: a write to a
// characteristic becomes PeerOS, SSID or Password, and a read of the SSID or
// password after SetCredentials becomes PeerReadSSID or PeerReadPassword.
type PeripheralTransport interface {
	// Advertise publishes the service with the OS characteristic serving
	// localOS. StartedAdvertising is sent on Events once it is live.
	Advertise(ctx context.Context, service uuid.UUID, localOS string) error
	// SetCredentials makes the SSID and password characteristics readable.
	// Until then they serve NoValue.
	SetCredentials(ssid, password string) error
	Events() <-chan Message
	Stop() error
}

// Device identifies an advertiser found by a scan.
type Device struct {
	ID   string
	Name string
}

// CentralTransport is the scanning side of a BLE adapter. Pairing outcomes
// (Pin, PairApproved, PairSuccess, AlreadyPaired, PairFailure, UserCanceled)
// arrive on Events.
type CentralTransport interface {
	Scan(ctx context.Context, service uuid.UUID) (Device, error)
	Pair(ctx context.Context, dev Device) error
	// ConfirmPin answers a Pin event once the user has compared PINs.
	ConfirmPin(approved bool) error
	DiscoverCharacteristics(ctx context.Context, service uuid.UUID) error
	Read(ctx context.Context, characteristic uuid.UUID) (string, error)
	Write(ctx context.Context, characteristic uuid.UUID, value string) error
	Unpair() error
	Events() <-chan Message
	Stop() error
}

// Approver asks the user whether a pairing PIN matches the peer's.
type Approver interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoApprove accepts every PIN. Useful headless and in tests.
type AutoApprove bool

func (a AutoApprove) Confirm(context.Context, string) (bool, error) {
	return bool(a), nil
}
