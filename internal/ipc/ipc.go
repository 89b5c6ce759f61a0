// Package ipc is the loopback channel a second launch uses to hand a request
// to the running instance. One connection carries one ASCII token.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Action is the token sent over the wire.
type Action string

const (
	ActionReopenSettings Action = "REOPEN_SETTINGS"
	ActionCapture        Action = "CAPTURE"
	ActionOpenFolder     Action = "OPEN_FOLDER"
	ActionQuit           Action = "QUIT"
)

const (
	maxMessage  = 64
	readTimeout = 2 * time.Second
	dialTimeout = time.Second
)

var (
	// ErrAddrInUse means another process already owns the port.
	ErrAddrInUse = errors.New("ipc address already in use")
	// ErrNotListening means nothing accepted the connection.
	ErrNotListening = errors.New("no instance listening")
)

// Known reports whether a is a recognized action.
func Known(a Action) bool {
	switch a {
	case ActionReopenSettings, ActionCapture, ActionOpenFolder, ActionQuit:
		return true
	}
	return false
}

// Handler performs one action. It runs on the accept goroutine, so requests
// are handled strictly one after another.
type Handler func(ctx context.Context, a Action)

// Server accepts one connection at a time on a loopback address.
type Server struct {
	ln     net.Listener
	logger *logrus.Logger
}

// Listen binds addr. Binding is the ownership test for the primary instance:
// if another process holds the port, the error wraps ErrAddrInUse.
func Listen(addr string, logger *logrus.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) || isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
		}
		return nil, fmt.Errorf("ipc listen %s: %w", addr, err)
	}
	logger.Infof("ipc: listening on %s", ln.Addr())
	return &Server{ln: ln, logger: logger}, nil
}

// SetLogger replaces the logger. Call it before Serve.
func (s *Server) SetLogger(l *logrus.Logger) { s.logger = l }

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve runs accept → read → dispatch → close until ctx is done or the
// listener is closed.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Errorf("ipc accept: %v", err)
			continue
		}
		s.handleConn(ctx, conn, h)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, h Handler) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Debugf("ipc connection close: %v", err)
		}
	}()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, maxMessage)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil {
			s.logger.Debugf("ipc read from %s: %v", conn.RemoteAddr(), err)
		}
		return
	}
	a := Action(strings.TrimSpace(string(buf[:n])))
	if !Known(a) {
		s.logger.Warnf("ipc: ignoring unknown request %q from %s", a, conn.RemoteAddr())
		return
	}
	s.logger.Infof("ipc: %s from %s", a, conn.RemoteAddr())
	h(ctx, a)
}

// Close stops accepting connections.
func (s *Server) Close() error { return s.ln.Close() }

// Notify sends a to the instance at addr. A refused connection means nobody
// is listening and returns (false, nil); other dial failures are returned.
func Notify(ctx context.Context, addr string, a Action) (bool, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) || isRefused(err) {
			return false, nil
		}
		return false, fmt.Errorf("ipc dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write([]byte(a)); err != nil {
		return true, fmt.Errorf("ipc send %s: %w", a, err)
	}
	return true, nil
}

// Send is Notify for callers that need a running instance.
func Send(ctx context.Context, addr string, a Action) error {
	ok, err := Notify(ctx, addr, a)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w on %s", ErrNotListening, addr)
	}
	return nil
}

// Windows reports WSAEADDRINUSE / WSAECONNREFUSED outside the syscall
// constants above; fall back to the message text.
func isAddrInUse(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "only one usage of each socket address")
}

func isRefused(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused")
}

// Probe reports whether something accepts connections on addr. It sends
// nothing, so the server sees an empty request and drops it.
func Probe(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
