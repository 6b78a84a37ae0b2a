// Package session runs one transfer from credentials to teardown: optional
// Bluetooth negotiation, key derivation, network acquisition, stream setup,
// handshake and the file transfer itself.
//
// Whoever holds a running Session may Cancel it at any time. Cancel aborts
// the context, waits for Run to return and then tears down whatever the
// session had acquired, so the hotspot is released even when the
// cancellation arrives while the network is still coming up.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"flyingcarpet/internal/ble"
	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/handshake"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/network"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/store"
	"flyingcarpet/internal/stream"
	"flyingcarpet/internal/transfer"
	"flyingcarpet/internal/ui"
	"flyingcarpet/internal/wire"
)

const separator = "========================="

// Options are the choices the user made for this transfer.
type Options struct {
	Mode    peer.Mode
	LocalOS peer.OS
	// PeerOS and Password are ignored when UseBluetooth is set; both ends
	// must use the password Bluetooth negotiates.
	PeerOS       peer.OS
	Password     string
	UseBluetooth bool
	// Interface is the WiFi interface handed to the network provider.
	Interface string
	// Port defaults to wire.Port.
	Port int
}

// Deps are the collaborators a session drives.
type Deps struct {
	Provider  network.Provider
	Transport stream.Transport
	Bluetooth *ble.Negotiator
	UI        ui.UI
	Log       *logrus.Entry
}

type Session struct {
	ID uuid.UUID

	opts  Options
	deps  Deps
	ui    ui.UI
	log   *logrus.Entry
	state store.State

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(opts Options, deps Deps) *Session {
	if deps.UI == nil {
		deps.UI = ui.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.Transport == nil {
		deps.Transport = stream.TCP{}
	}
	if opts.Port == 0 {
		opts.Port = wire.Port
	}
	id := uuid.New()
	return &Session{
		ID:   id,
		opts: opts,
		deps: deps,
		ui:   deps.UI,
		log: deps.Log.WithFields(logrus.Fields{
			"session": id.String(),
			"mode":    opts.Mode.String(),
		}),
	}
}

func (s *Session) phase(name string) *logrus.Entry {
	return s.log.WithField("phase", name)
}

// fail reports err to the user prefixed with what was being attempted.
func (s *Session) fail(phase, prefix string, err error) error {
	if prefix == "" {
		s.ui.Output(err.Error())
	} else {
		s.ui.Output(fmt.Sprintf("%s: %v", prefix, err))
	}
	s.phase(phase).WithError(err).Error("session failed")
	return err
}

func (s *Session) validate() error {
	if s.deps.Provider == nil {
		return apperr.Fatal(apperr.ErrConfiguration, "session", "no network provider configured", nil)
	}
	switch s.opts.Mode.Kind {
	case peer.Send:
		if len(s.opts.Mode.Files) == 0 {
			return apperr.Fatal(apperr.ErrConfiguration, "session", "Send mode selected but no files present", nil)
		}
	case peer.Receive:
		if s.opts.Mode.Dir == "" {
			return apperr.Fatal(apperr.ErrConfiguration, "session", "Receive mode selected but no folder present", nil)
		}
	}
	if s.opts.UseBluetooth {
		if s.deps.Bluetooth == nil {
			return apperr.Fatal(apperr.ErrConfiguration, "session", "Bluetooth selected but not available", nil)
		}
		return nil
	}
	if s.opts.PeerOS == "" {
		return apperr.Fatal(apperr.ErrConfiguration, "session", "Missing peer OS", nil)
	}
	if s.opts.Password == "" {
		return apperr.Fatal(apperr.ErrConfiguration, "session", "Missing password", nil)
	}
	return nil
}

// Run performs the whole transfer and always tears down before returning.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if err := s.Teardown(); err != nil {
			s.phase("teardown").WithError(err).Warn("cleanup incomplete")
		}
	}()

	if err := s.validate(); err != nil {
		return s.fail("session", "", err)
	}

	peerOS, password := s.opts.PeerOS, s.opts.Password
	if s.opts.UseBluetooth {
		res, err := s.deps.Bluetooth.Negotiate(ctx, s.opts.Mode.Kind)
		if err != nil {
			return s.fail("bluetooth", "Could not establish Bluetooth connection", err)
		}
		peerOS, password = res.PeerOS, res.Password
		if s.opts.Password != "" && s.opts.Password != password {
			s.phase("bluetooth").Warn("ignoring supplied password in favour of the negotiated one")
		}
	}

	// The name is always recomputed so it can never drift from the key.
	key, networkName := keys.Derive(password)
	s.state.SetNetworkName(networkName)

	req := network.Request{
		LocalOS:     s.opts.LocalOS,
		PeerOS:      peerOS,
		Mode:        s.opts.Mode.Kind,
		NetworkName: networkName,
		Password:    password,
		Interface:   s.opts.Interface,
	}
	s.phase("network").WithFields(logrus.Fields{
		"peer_os": peerOS,
		"role":    req.Role().String(),
		"network": networkName,
	}).Info("connecting to peer")

	res, err := s.deps.Provider.ConnectToPeer(ctx, req)
	if err != nil {
		return s.fail("network", "Error connecting to peer", err)
	}
	if !s.state.SetResource(res) {
		res.Release()
		return s.fail("network", "Error connecting to peer", apperr.Fatal(apperr.ErrConfiguration, "network", "session already holds a network resource", nil))
	}

	conn, err := stream.Establish(ctx, s.deps.Transport, res, s.opts.Port, s.ui, s.phase("connect"))
	if err != nil {
		return s.fail("connect", fmt.Sprintf("Error starting %s connection", strings.ToUpper(s.deps.Transport.Name())), err)
	}
	s.state.SetStream(conn)
	// Closing the stream is what unblocks reads and writes on cancel.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hs := handshake.New(s.phase("handshake"))
	if err := hs.ConfirmVersion(conn, res.Role); err != nil {
		return s.fail("handshake", "Error confirming version", s.canceled(ctx, err))
	}
	if err := hs.ConfirmMode(conn, res.Role, s.opts.Mode.Kind); err != nil {
		return s.fail("handshake", "Error confirming mode", s.canceled(ctx, err))
	}

	fs, err := transfer.NewFileshare(key, s.ui, s.phase("transfer"))
	if err != nil {
		return s.fail("transfer", "", err)
	}
	if s.opts.Mode.Kind == peer.Send {
		files, err := transfer.ExpandPaths(s.opts.Mode.Files)
		if err != nil {
			return s.fail("send", "Error reading files", err)
		}
		if err := fs.Send(ctx, conn, files); err != nil {
			return s.fail("send", "", s.canceled(ctx, err))
		}
	} else {
		if err := fs.Receive(ctx, conn, s.opts.Mode.Dir); err != nil {
			return s.fail("receive", "", s.canceled(ctx, err))
		}
	}

	s.ui.Output(separator)
	s.ui.Output("Transfer complete")
	s.phase("transfer").Info("transfer complete")
	return nil
}

// canceled attaches the cancellation cause to an I/O error caused by the
// stream being closed underneath it.
func (s *Session) canceled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return multierr.Append(ctxErr, err)
	}
	return err
}

// Start runs the session on its own goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return apperr.Fatal(apperr.ErrConfiguration, "session", "session already started", nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		defer cancel()
		err := s.Run(ctx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Wait blocks until a started session finishes and returns its result.
func (s *Session) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel aborts a started session, waits for it to stop and tears down.
func (s *Session) Cancel() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.phase("teardown").Info("session canceled")
	return s.Teardown()
}

// Teardown closes the stream, releases the network and re-enables the UI.
// It can be called any number of times, with or without anything acquired.
func (s *Session) Teardown() error {
	conn, res, networkName := s.state.Take()

	var err error
	if conn != nil {
		if cErr := conn.Close(); cErr != nil {
			s.phase("teardown").WithError(cErr).Debug("stream close")
		}
	}
	if s.deps.Provider != nil && (res != nil || networkName != "") {
		if hErr := s.deps.Provider.StopHotspot(res, networkName); hErr != nil {
			s.ui.Output("Failed to stop hotspot: " + hErr.Error())
			err = multierr.Append(err, hErr)
		}
	}
	s.ui.EnableUI()
	return err
}

// Active reports whether the session still holds a stream or network.
func (s *Session) Active() bool {
	return s.state.Active()
}
