package framing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/user/rescuemesh/internal/util"
)

// Handler receives a verified payload. It runs after the ACK is sent.
type Handler func(payload []byte, remote string)

// Server accepts one frame per connection.
type Server struct {
	addr        string
	handler     Handler
	readTimeout time.Duration
	onFrame     func(result string)

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	log      *util.Logger
}

// NewServer creates a server on port. It binds every interface because the
// peer link interface comes and goes as groups form and tear down.
func NewServer(port int, handler Handler) *Server {
	return &Server{
		addr:        net.JoinHostPort("", strconv.Itoa(port)),
		handler:     handler,
		readTimeout: 10 * time.Second,
		log:         util.Named("framing"),
	}
}

// OnFrame registers fn to be told "ack" or "nak" for every inbound frame.
// Call before Serve.
func (s *Server) OnFrame(fn func(result string)) {
	s.onFrame = fn
}

// Listen binds the socket. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.log.Info("Listening for frames on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("Accept failed: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Frame handler panic from %s: %v", remote, r)
		}
	}()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	payload, err := ReadFrame(conn)
	if err != nil {
		s.log.Warn("Rejecting frame from %s: %v", remote, err)
		_, _ = conn.Write([]byte{NAK})
		s.observe("nak")
		return
	}

	if _, err := conn.Write([]byte{ACK}); err != nil {
		s.log.Warn("Failed to ACK %s: %v", remote, err)
		return
	}
	conn.Close()
	s.observe("ack")

	if s.handler != nil {
		s.handler(payload, remote)
	}
}

func (s *Server) observe(result string) {
	if s.onFrame != nil {
		s.onFrame(result)
	}
}
