package ble

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

// Central is the scanner, used by the receiving peer.
type Central struct {
	transport CentralTransport
	approver  Approver
	localOS   peer.OS
	ui        ui.UI
	log       *logrus.Entry

	generatePassword func() (string, error)
	// newBackOff paces reads of credentials the peripheral has not set yet.
	newBackOff func() backoff.BackOff
}

func NewCentral(t CentralTransport, approver Approver, localOS peer.OS, sink ui.UI, log *logrus.Entry) *Central {
	return &Central{
		transport:        t,
		approver:         approver,
		localOS:          localOS,
		ui:               sink,
		log:              log,
		generatePassword: keys.GeneratePassword,
		newBackOff:       defaultCredentialBackOff,
	}
}

func defaultCredentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (c *Central) Negotiate(ctx context.Context) (Result, error) {
	c.ui.Output("Scanning for Bluetooth peripherals...")
	dev, err := c.transport.Scan(ctx, ServiceUUID)
	if err != nil {
		return Result{}, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Could not find Flying Carpet peer", err)
	}
	defer func() {
		if err := c.transport.Stop(); err != nil {
			c.log.WithError(err).Warn("stopping bluetooth central")
		}
	}()
	c.log.WithField("device", dev.ID).Debug("found advertiser, pairing")

	if err := c.transport.Pair(ctx, dev); err != nil {
		return Result{}, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Pairing failed.", err)
	}
	m := machine{ui: c.ui, log: c.log, step: c.pairStep(ctx)}
	if _, err := m.run(ctx, c.transport.Events(), WaitPin, DiscoverService); err != nil {
		return Result{}, err
	}

	res, err := c.exchange(ctx)
	if err != nil {
		if uerr := c.transport.Unpair(); uerr != nil {
			c.log.WithError(uerr).Warn("error unpairing")
			err = multierr.Append(err, uerr)
		}
		return Result{}, err
	}
	return res, nil
}

// pairStep handles the two pairing waits. A PIN is shown and put to the user
// before the pairing is allowed to complete.
func (c *Central) pairStep(ctx context.Context) func(State, Message) (State, error) {
	return func(st State, msg Message) (State, error) {
		if msg.Kind == AlreadyPaired {
			return DiscoverService, nil
		}
		switch st {
		case WaitPin:
			approved, err := c.approver.Confirm(ctx, fmt.Sprintf("Does the PIN %s match the one on the other device?", msg.Value))
			if err != nil {
				return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Could not confirm PIN", err)
			}
			if err := c.transport.ConfirmPin(approved); err != nil {
				return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Pairing failed.", err)
			}
			if !approved {
				return st, negotiationError(Message{Kind: UserCanceled})
			}
			return WaitPairResult, nil
		case WaitPairResult:
			return DiscoverService, nil
		}
		return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "central reached invalid state "+st.String(), nil)
	}
}

// exchange runs everything after pairing. Any error here leaves a pairing
// the caller must undo.
func (c *Central) exchange(ctx context.Context) (Result, error) {
	if err := c.transport.DiscoverCharacteristics(ctx, ServiceUUID); err != nil {
		return Result{}, bleErr("Could not discover Flying Carpet service", err)
	}

	c.ui.Output("Reading peer's OS")
	rawOS, err := c.transport.Read(ctx, OSCharacteristicUUID)
	if err != nil {
		return Result{}, bleErr("Could not read peer's OS", err)
	}
	remote, err := peer.ParseOS(rawOS)
	if err != nil {
		return Result{}, bleErr("Peer reported an unknown OS", err)
	}
	c.ui.Output(fmt.Sprintf("Peer OS: %s", remote))

	if err := c.transport.Write(ctx, OSCharacteristicUUID, string(c.localOS)); err != nil {
		return Result{}, bleErr("Could not write our OS", err)
	}

	res := Result{PeerOS: remote}
	if peer.IsHosting(c.localOS, remote, peer.Receive) {
		c.log.Debug("hosting, writing wifi info to peer")
		password, err := c.generatePassword()
		if err != nil {
			return Result{}, bleErr("Could not generate password", err)
		}
		_, name := keys.Derive(password)
		if err := c.transport.Write(ctx, SSIDCharacteristicUUID, name); err != nil {
			return Result{}, bleErr("Could not write SSID", err)
		}
		if err := c.transport.Write(ctx, PasswordCharacteristicUUID, password); err != nil {
			return Result{}, bleErr("Could not write password", err)
		}
		res.NetworkName, res.Password = name, password
		return res, nil
	}

	c.log.Debug("joining, reading wifi info from peer")
	if res.NetworkName, err = c.readSet(ctx, SSIDCharacteristicUUID); err != nil {
		return Result{}, bleErr("Could not read SSID", err)
	}
	if res.Password, err = c.readSet(ctx, PasswordCharacteristicUUID); err != nil {
		return Result{}, bleErr("Could not read password", err)
	}
	return res, nil
}

// readSet reads a characteristic, retrying while the peripheral still serves
// NoValue.
func (c *Central) readSet(ctx context.Context, characteristic uuid.UUID) (string, error) {
	var value string
	op := func() error {
		v, err := c.transport.Read(ctx, characteristic)
		if err != nil {
			return backoff.Permanent(err)
		}
		if v == NoValue || v == "" {
			return fmt.Errorf("characteristic %s not set yet", characteristic)
		}
		value = v
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return value, nil
}

func bleErr(msg string, err error) error {
	return apperr.Fatal(apperr.ErrNegotiation, "bluetooth", msg, err)
}
