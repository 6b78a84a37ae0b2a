package stream

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/network"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/ui"
)

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

func establishPair(t *testing.T, tr Transport, port int) (client, host Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		var err error
		host, err = Establish(ctx, tr, &network.Resource{Role: peer.Host, ListenAddress: "127.0.0.1"}, port, nil, testLog())
		return err
	})
	g.Go(func() error {
		var err error
		client, err = Establish(ctx, tr, &network.Resource{Role: peer.Client, Address: "127.0.0.1"}, port, nil, testLog())
		return err
	})
	require.NoError(t, g.Wait())
	return client, host
}

func exchange(t *testing.T, client, host Stream) {
	t.Helper()
	var g errgroup.Group
	g.Go(func() error {
		if _, err := client.Write([]byte("ping")); err != nil {
			return err
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(client, buf); err != nil {
			return err
		}
		assert.Equal(t, "pong", string(buf))
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(host, buf); err != nil {
			return err
		}
		assert.Equal(t, "ping", string(buf))
		_, err := host.Write([]byte("pong"))
		return err
	})
	require.NoError(t, g.Wait())
}

func TestTCPEstablish(t *testing.T) {
	client, host := establishPair(t, TCP{}, freeTCPPort(t))
	defer client.Close()
	defer host.Close()
	exchange(t, client, host)
}

func TestQUICEstablish(t *testing.T) {
	tr, err := ForName("quic", testLog())
	require.NoError(t, err)
	client, host := establishPair(t, tr, freeUDPPort(t))
	exchange(t, client, host)
	assert.NoError(t, host.Close())
	client.Close()
}

func TestClientRetriesUntilHostListens(t *testing.T) {
	port := freeTCPPort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var client Stream
	var g errgroup.Group
	g.Go(func() error {
		var err error
		client, err = Establish(ctx, TCP{}, &network.Resource{Role: peer.Client, Address: "127.0.0.1"}, port, nil, testLog())
		return err
	})
	time.Sleep(300 * time.Millisecond)
	host, err := Establish(ctx, TCP{}, &network.Resource{Role: peer.Host, ListenAddress: "127.0.0.1"}, port, nil, testLog())
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	defer client.Close()
	defer host.Close()
	exchange(t, client, host)
}

func TestAcceptHonoursCancel(t *testing.T) {
	rec := &ui.Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Establish(ctx, TCP{}, &network.Resource{Role: peer.Host, ListenAddress: "127.0.0.1"}, freeTCPPort(t), rec, testLog())
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrTransport))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"Waiting for connection..."}, rec.Outputs())
}

func TestEstablishReportsProgress(t *testing.T) {
	port := freeTCPPort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostUI, clientUI := &ui.Recorder{}, &ui.Recorder{}
	var host, client Stream
	var g errgroup.Group
	g.Go(func() error {
		var err error
		host, err = Establish(ctx, TCP{}, &network.Resource{Role: peer.Host, ListenAddress: "127.0.0.1"}, port, hostUI, testLog())
		return err
	})
	g.Go(func() error {
		var err error
		client, err = Establish(ctx, TCP{}, &network.Resource{Role: peer.Client, Address: "127.0.0.1"}, port, clientUI, testLog())
		return err
	})
	require.NoError(t, g.Wait())
	defer host.Close()
	defer client.Close()

	assert.Equal(t, []string{"Waiting for connection...", "Connection accepted"}, hostUI.Outputs())
	assert.Equal(t, []string{"Connected to " + net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}, clientUI.Outputs())
}

func TestForName(t *testing.T) {
	tr, err := ForName("", testLog())
	require.NoError(t, err)
	assert.Equal(t, "tcp", tr.Name())
	_, err = ForName("carrier-pigeon", testLog())
	assert.Error(t, err)
}
