package client

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

// Client is the local end of the tunnel. It listens on the bind address
// and relays every accepted connection through a remote server, wrapping
// outbound traffic in a fresh preset pipeline and unwrapping the return
// path.
type Client struct {
	config    *config.Config
	transport transport.Transport
	forward   *codec.Address
	listener  net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client from a validated configuration. Preset chains of
// all enabled servers are resolved and validated here, before any local
// connection is accepted.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	for i := range cfg.Servers {
		if !cfg.Servers[i].Enabled {
			continue
		}
		if err := preset.ValidateDescriptors(cfg.Servers[i].Presets); err != nil {
			return nil, err
		}
	}

	forward, err := codec.ParseAddress(cfg.Forward)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:    cfg,
		transport: transport.New(cfg.Transport),
		forward:   forward,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start starts the local listener
func (c *Client) Start() error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	srv := c.config.FirstEnabledServer()

	log.Printf("Starting client on %s, relaying to %s via %s transport",
		addr, srv.Address(), c.transport.Name())
	log.Printf("Tunnel target: %s", c.forward)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.listener = listener

	c.wg.Add(1)
	go c.acceptLoop()

	return nil
}

// acceptLoop accepts local connections
func (c *Client) acceptLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, err := c.listener.Accept()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		c.wg.Add(1)
		go c.handleConnection(conn)
	}
}

// handleConnection relays one local connection through the remote
// server. The pipeline is owned exclusively by this connection;
// pipelineMu serializes invocations across the two pump directions.
func (c *Client) handleConnection(local net.Conn) {
	defer c.wg.Done()
	defer local.Close()

	srv := c.config.FirstEnabledServer()

	remote, err := c.transport.Dial(c.ctx, srv.Address())
	if err != nil {
		log.Printf("Server dial error: %v", err)
		return
	}
	defer remote.Close()

	env := &preset.Env{
		Secret: srv.Key,
		Target: c.forward,
	}
	pipeline, err := preset.NewPipeline(srv.Presets, env)
	if err != nil {
		log.Printf("Pipeline build error: %v", err)
		return
	}

	var pipelineMu sync.Mutex
	idle := time.Duration(c.config.Timeout) * time.Second

	c.wg.Add(1)
	go c.returnLoop(local, remote, pipeline, &pipelineMu, idle)

	buf := make([]byte, 32*1024)
	for {
		local.SetReadDeadline(time.Now().Add(idle))
		n, err := local.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				log.Printf("Local read error: %v", err)
			}
			return
		}

		pipelineMu.Lock()
		out, perr := pipeline.ProcessOutbound(buf[:n])
		pipelineMu.Unlock()
		if perr != nil {
			log.Printf("Outbound pipeline error: %v", perr)
			return
		}

		if _, err := remote.Write(out); err != nil {
			log.Printf("Server write error: %v", err)
			return
		}
	}
}

// returnLoop pumps server -> local, unwrapping each chunk inbound
func (c *Client) returnLoop(local net.Conn, remote transport.Connection, pipeline *preset.Pipeline, mu *sync.Mutex, idle time.Duration) {
	defer c.wg.Done()
	defer local.Close()
	defer remote.Close()

	buf := make([]byte, 32*1024)

	for {
		n, err := remote.Read(buf)
		if err != nil {
			return
		}

		mu.Lock()
		out, perr := pipeline.ProcessInbound(buf[:n])
		mu.Unlock()
		if perr != nil {
			log.Printf("Inbound pipeline error: %v", perr)
			return
		}

		if len(out) == 0 {
			continue
		}
		if _, err := local.Write(out); err != nil {
			return
		}
	}
}

// Stop stops the client
func (c *Client) Stop() error {
	log.Println("Stopping client...")
	c.cancel()

	if c.listener != nil {
		c.listener.Close()
	}

	c.wg.Wait()
	log.Println("Client stopped")
	return nil
}
