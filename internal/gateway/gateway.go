// Package gateway is the connection boundary of the relay: a persistent TCP
// transport carrying connect/disconnect/message events inbound and one-way
// pushes outbound, framed as newline-delimited JSON.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/metrics"
	"github.com/courier-im/courier/internal/models"
)

// Frame types exchanged on a gateway connection.
const (
	FrameHello   = "hello"   // client -> server, carries the session token
	FrameReady   = "ready"   // server -> client, connection is bound
	FrameMessage = "message" // both directions
	FrameError   = "error"   // server -> client
)

// DefaultHelloTimeout bounds how long an accepted connection may wait before
// authenticating.
const DefaultHelloTimeout = 10 * time.Second

// maxFrameSize caps one JSON line on the wire.
const maxFrameSize = 64 * 1024

// Frame is one newline-delimited JSON message on a gateway connection.
type Frame struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Body        string `json:"body,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Events receives connection lifecycle and message events. Implemented by the
// relay.
type Events interface {
	OnConnect(userID, handle string)
	OnDisconnect(handle string)
	OnSend(ctx context.Context, senderID, recipientID, body string) (*models.StoredMessage, error)
}

// TokenVerifier resolves a bearer token to a user identity. Implemented by
// the session issuer.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Server accepts inbound TCP connections, binds each to an authenticated
// user, and exposes outbound push by connection handle.
type Server struct {
	listener net.Listener
	events   Events
	verifier TokenVerifier
	logger   zerolog.Logger

	helloTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn // handle -> connection

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and accept loop.
func Listen(address string, events Events, verifier TokenVerifier, logger zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("gateway: listen on %q: %w", address, err)
	}

	s := &Server{
		listener:     listener,
		events:       events,
		verifier:     verifier,
		logger:       logger,
		helloTimeout: DefaultHelloTimeout,
		conns:        make(map[string]*conn),
		closed:       make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and closes all live connections.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()

		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.netConn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return closeErr
}

// PushTo delivers a payload to the connection identified by handle. The relay
// treats failures as best-effort delivery misses.
func (s *Server) PushTo(handle string, push models.Push) error {
	s.mu.RLock()
	c, ok := s.conns[handle]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("gateway: unknown connection handle %q", handle)
	}
	return c.writeFrame(Frame{
		Type:     FrameMessage,
		SenderID: push.SenderID,
		Body:     push.Body,
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("gateway accept failed")
			continue
		}

		s.wg.Add(1)
		go s.handleConn(netConn)
	}
}

// handleConn authenticates a fresh connection and pumps its events until it
// drops.
func (s *Server) handleConn(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	handle := ulid.Make().String()
	scanner := bufio.NewScanner(netConn)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)

	c := &conn{netConn: netConn, handle: handle}

	userID, err := s.awaitHello(c, scanner)
	if err != nil {
		s.logger.Info().
			Err(err).
			Str("remote_addr", netConn.RemoteAddr().String()).
			Msg("gateway connection rejected")
		return
	}
	c.userID = userID

	s.mu.Lock()
	s.conns[handle] = c
	s.mu.Unlock()
	metrics.GatewayConnections.Inc()

	s.events.OnConnect(userID, handle)
	_ = c.writeFrame(Frame{Type: FrameReady})

	s.readLoop(c, scanner)

	s.events.OnDisconnect(handle)
	s.mu.Lock()
	delete(s.conns, handle)
	s.mu.Unlock()
	metrics.GatewayConnections.Dec()
}

// awaitHello reads and verifies the authentication frame within the hello
// timeout.
func (s *Server) awaitHello(c *conn, scanner *bufio.Scanner) (string, error) {
	if err := c.netConn.SetReadDeadline(time.Now().Add(s.helloTimeout)); err != nil {
		return "", fmt.Errorf("set hello deadline: %w", err)
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read hello: %w", err)
		}
		return "", errors.New("connection closed before hello")
	}

	var frame Frame
	if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
		_ = c.writeFrame(Frame{Type: FrameError, Error: "malformed frame"})
		return "", fmt.Errorf("decode hello: %w", err)
	}
	if frame.Type != FrameHello {
		_ = c.writeFrame(Frame{Type: FrameError, Error: "expected hello frame"})
		return "", fmt.Errorf("expected %q frame, got %q", FrameHello, frame.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.helloTimeout)
	defer cancel()
	userID, err := s.verifier.Verify(ctx, frame.Token)
	if err != nil {
		_ = c.writeFrame(Frame{Type: FrameError, Error: "invalid token"})
		return "", fmt.Errorf("verify token: %w", err)
	}

	if err := c.netConn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear hello deadline: %w", err)
	}
	return userID, nil
}

// readLoop dispatches inbound message frames until the connection drops.
// Send failures are reported back on the same connection without closing it.
func (s *Server) readLoop(c *conn, scanner *bufio.Scanner) {
	for scanner.Scan() {
		var frame Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			_ = c.writeFrame(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case FrameMessage:
			// The sender is always the user bound to this connection.
			if _, err := s.events.OnSend(context.Background(), c.userID, frame.RecipientID, frame.Body); err != nil {
				_ = c.writeFrame(Frame{Type: FrameError, Error: err.Error()})
			}
		default:
			_ = c.writeFrame(Frame{Type: FrameError, Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug().
			Err(err).
			Str("handle", c.handle).
			Msg("gateway connection read ended")
	}
}
