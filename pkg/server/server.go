package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/veilsocks/veil/pkg/codec"
	"github.com/veilsocks/veil/pkg/config"
	"github.com/veilsocks/veil/pkg/preset"
	"github.com/veilsocks/veil/pkg/transport"
)

const dialTimeout = 10 * time.Second

// maxPrelude bounds how many raw bytes are held back waiting for the
// chain to decode a target address. A chain without an address-framing
// preset never produces one, so the connection is cut off here instead
// of buffering the peer's stream forever.
const maxPrelude = 64 * 1024

// Server is the remote end of the tunnel. For every accepted connection
// it builds a fresh preset pipeline, unwraps inbound traffic through it,
// dials the target the address-framing preset decoded, and wraps return
// traffic on the way back.
type Server struct {
	config    *config.Config
	transport transport.Transport
	listener  transport.Listener
	dialer    net.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server from a validated configuration. The preset chain
// is resolved and validated here so that a bad chain stops the process
// before any connection is accepted.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := preset.ValidateDescriptors(cfg.Presets); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:    cfg,
		transport: transport.New(cfg.Transport),
		dialer:    net.Dialer{Timeout: dialTimeout},
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	log.Printf("Starting server on %s using %s transport", addr, s.transport.Name())

	listener, err := s.transport.Listen(s.ctx, addr)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Printf("Server listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection relays one tunnel connection. The pipeline is owned
// exclusively by this connection; pipelineMu serializes invocations so
// the two pump directions never run a hook concurrently.
func (s *Server) handleConnection(conn transport.Connection) {
	defer s.wg.Done()
	defer conn.Close()

	var targetAddr *codec.Address
	env := &preset.Env{
		Secret: s.config.Key,
		OnTarget: func(addr *codec.Address) {
			targetAddr = addr
		},
	}

	pipeline, err := preset.NewPipeline(s.config.Presets, env)
	if err != nil {
		log.Printf("Pipeline build error: %v", err)
		return
	}

	var (
		pipelineMu sync.Mutex
		target     net.Conn
		prelude    []byte // raw bytes kept for redirect until the target link is up
	)
	defer func() {
		if target != nil {
			target.Close()
		}
	}()

	idle := time.Duration(s.config.Timeout) * time.Second
	buf := make([]byte, 32*1024)

	for {
		extendDeadline(conn, idle)
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Printf("Tunnel read error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		if target == nil {
			prelude = append(prelude, buf[:n]...)
		}

		pipelineMu.Lock()
		out, perr := pipeline.ProcessInbound(buf[:n])
		pipelineMu.Unlock()
		if perr != nil {
			if preset.IsProtocolError(perr) && target == nil && s.config.Redirect != "" {
				log.Printf("Protocol violation from %s, redirecting to %s", conn.RemoteAddr(), s.config.Redirect)
				s.redirect(conn, prelude)
				return
			}
			log.Printf("Inbound pipeline error from %s: %v", conn.RemoteAddr(), perr)
			return
		}

		if target == nil && targetAddr != nil {
			tc, err := s.dialer.DialContext(s.ctx, "tcp", targetAddr.String())
			if err != nil {
				log.Printf("Target dial error for %s: %v", targetAddr, err)
				return
			}
			log.Printf("Relaying %s -> %s", conn.RemoteAddr(), targetAddr)
			target = tc
			prelude = nil

			s.wg.Add(1)
			go s.returnLoop(conn, tc, pipeline, &pipelineMu, idle)
		}

		if target == nil {
			if len(prelude) > maxPrelude {
				log.Printf("No target address from %s after %d bytes, dropping", conn.RemoteAddr(), len(prelude))
				if s.config.Redirect != "" {
					s.redirect(conn, prelude)
				}
				return
			}
			continue
		}

		if len(out) > 0 {
			if _, err := target.Write(out); err != nil {
				log.Printf("Target write error: %v", err)
				return
			}
		}
	}
}

// returnLoop pumps target -> tunnel, wrapping each chunk outbound
func (s *Server) returnLoop(conn transport.Connection, target net.Conn, pipeline *preset.Pipeline, mu *sync.Mutex, idle time.Duration) {
	defer s.wg.Done()
	defer conn.Close()
	defer target.Close()

	buf := make([]byte, 32*1024)

	for {
		target.SetReadDeadline(time.Now().Add(idle))
		n, err := target.Read(buf)
		if err != nil {
			return
		}

		mu.Lock()
		out, perr := pipeline.ProcessOutbound(buf[:n])
		mu.Unlock()
		if perr != nil {
			log.Printf("Outbound pipeline error: %v", perr)
			return
		}

		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// redirect hands a misbehaving peer's raw stream to the configured
// redirect address, replaying the bytes received so far. The peer sees a
// plausible plain service instead of a hard close.
func (s *Server) redirect(conn transport.Connection, prelude []byte) {
	rc, err := s.dialer.DialContext(s.ctx, "tcp", s.config.Redirect)
	if err != nil {
		log.Printf("Redirect dial error: %v", err)
		return
	}
	defer rc.Close()

	if len(prelude) > 0 {
		if _, err := rc.Write(prelude); err != nil {
			return
		}
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(rc, conn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(conn, rc)
		done <- struct{}{}
	}()
	<-done
}

// Stop stops the server
func (s *Server) Stop() error {
	log.Println("Stopping server...")
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	log.Println("Server stopped")
	return nil
}

// extendDeadline pushes out the read deadline on transports that
// support one
func extendDeadline(conn transport.Connection, idle time.Duration) {
	if d, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		d.SetReadDeadline(time.Now().Add(idle))
	}
}
