// Package stream sets up the single ordered byte stream a session runs its
// handshake and transfer over. The client dials the host; the host accepts
// exactly one connection.
package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/network"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

// Stream is a connected, reliable, bidirectional byte stream.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Transport is how a Stream gets made.
type Transport interface {
	Dial(ctx context.Context, address string) (Stream, error)
	// Accept listens on address, takes the first connection and stops
	// listening.
	Accept(ctx context.Context, address string) (Stream, error)
	Name() string
}

// ForName returns the transport called name: "tcp" or "quic".
func ForName(name string, log *logrus.Entry) (Transport, error) {
	switch name {
	case "", "tcp":
		return TCP{}, nil
	case "quic":
		return NewQUIC(log), nil
	}
	return nil, fmt.Errorf("unknown transport %q", name)
}

// DialBackOff paces repeated dials while the host is still starting to
// listen.
var DialBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Establish connects according to res's role. sink may be nil.
func Establish(ctx context.Context, t Transport, res *network.Resource, port int, sink ui.UI, log *logrus.Entry) (Stream, error) {
	if sink == nil {
		sink = ui.Nop{}
	}
	if res.Role == peer.Host {
		address := net.JoinHostPort(res.ListenAddress, strconv.Itoa(port))
		log.WithFields(logrus.Fields{"address": address, "transport": t.Name()}).Info("waiting for peer to connect")
		sink.Output("Waiting for connection...")
		s, err := t.Accept(ctx, address)
		if err != nil {
			return nil, apperr.Fatal(apperr.ErrTransport, "connect", "Error accepting connection", err)
		}
		sink.Output("Connection accepted")
		return s, nil
	}

	address := net.JoinHostPort(res.Address, strconv.Itoa(port))
	log.WithFields(logrus.Fields{"address": address, "transport": t.Name()}).Info("connecting to peer")
	var s Stream
	attempt := 0
	op := func() error {
		attempt++
		var err error
		s, err = t.Dial(ctx, address)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("dial failed")
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(DialBackOff(), ctx)); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, apperr.Fatal(apperr.ErrTransport, "connect", "Error connecting to "+address, err)
	}
	sink.Output("Connected to " + address)
	return s, nil
}
