package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// QUIC carries the session over one bidirectional QUIC stream on UDP.
type QUIC struct {
	Config *quic.Config
	log    *logrus.Entry
}

func NewQUIC(log *logrus.Entry) *QUIC {
	return &QUIC{
		Config: &quic.Config{
			KeepAlivePeriod: 10 * time.Second,
			MaxIdleTimeout:  30 * time.Second,
		},
		log: log,
	}
}

func (q *QUIC) Name() string { return "quic" }

func (q *QUIC) Dial(ctx context.Context, address string) (Stream, error) {
	conn, err := quic.DialAddr(ctx, address, clientTLSConfig(), q.Config)
	if err != nil {
		return nil, err
	}
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "could not open stream")
		return nil, err
	}
	return &quicStream{stream: s, conn: conn}, nil
}

func (q *QUIC) Accept(ctx context.Context, address string) (Stream, error) {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}
	listener, err := quic.ListenAddr(address, tlsConfig, q.Config)
	if err != nil {
		return nil, fmt.Errorf("error while attempting to listen on QUIC: %w", err)
	}

	conn, err := listener.Accept(ctx)
	if err != nil {
		listener.Close()
		return nil, err
	}
	q.log.WithField("remote", conn.RemoteAddr().String()).Debug("QUIC connection accepted")
	return &quicStream{conn: conn, listener: listener}, nil
}

// quicStream is one bidirectional stream plus the connection, and on the
// host the listener owning its socket, all closed together. On the host the
// stream is accepted on first use, since the client's stream only shows up
// once the client has written to it.
type quicStream struct {
	conn     quic.Connection
	listener *quic.Listener
	once     sync.Once

	mu     sync.Mutex
	stream quic.Stream
	err    error
}

func (s *quicStream) get() (quic.Stream, error) {
	s.once.Do(func() {
		s.mu.Lock()
		have := s.stream != nil
		s.mu.Unlock()
		if have {
			return
		}
		st, err := s.conn.AcceptStream(s.conn.Context())
		s.mu.Lock()
		s.stream, s.err = st, err
		s.mu.Unlock()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream, s.err
}

func (s *quicStream) Read(p []byte) (int, error) {
	st, err := s.get()
	if err != nil {
		return 0, err
	}
	return st.Read(p)
}

func (s *quicStream) Write(p []byte) (int, error) {
	st, err := s.get()
	if err != nil {
		return 0, err
	}
	return st.Write(p)
}

func (s *quicStream) SetReadDeadline(t time.Time) error {
	st, err := s.get()
	if err != nil {
		return err
	}
	return st.SetReadDeadline(t)
}

func (s *quicStream) Close() error {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	var err error
	if st != nil {
		err = st.Close()
	}
	s.conn.CloseWithError(0, "transfer finished")
	if s.listener != nil {
		s.listener.Close()
	}
	return err
}
