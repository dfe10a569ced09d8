// Package server owns the UDP listener. Each datagram is handed to the
// middleware chain on its own goroutine, capped by a weighted semaphore
// so a slow upstream cannot pile up unbounded workers.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/semaphore"
)

// maxUDPSize is the largest datagram accepted from a client.
const maxUDPSize = 4096

// Server type.
type Server struct {
	addr           string
	maxConcurrency int64

	conn *net.UDPConn
	sem  *semaphore.Weighted

	chainPool  sync.Pool
	bufferPool sync.Pool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New return new server.
func New(cfg *config.Config) *Server {
	if cfg.Bind == "" {
		cfg.Bind = ":53"
	}

	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 256
	}

	server := &Server{
		addr:           cfg.Bind,
		maxConcurrency: cfg.MaxConcurrency,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrency),
	}

	server.chainPool.New = func() interface{} {
		return middleware.NewChain(middleware.Handlers())
	}

	server.bufferPool.New = func() interface{} {
		buf := make([]byte, maxUDPSize)
		return &buf
	}

	server.ctx, server.cancel = context.WithCancel(context.Background())

	return server
}

// (*Server).Run binds the UDP socket and starts the receive loop.
func (s *Server) Run() error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	s.conn = conn

	zlog.Info("DNS server listening...", "net", "udp", "addr", s.addr, "workers", s.maxConcurrency)

	s.wg.Add(1)
	go s.serve()

	return nil
}

// (*Server).Addr returns the bound address, useful when binding port 0.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// (*Server).Shutdown stops the receive loop and waits for in-flight
// queries until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.conn != nil {
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		buf := s.bufferPool.Get().(*[]byte)

		n, remote, err := s.conn.ReadFromUDP(*buf)
		if err != nil {
			s.bufferPool.Put(buf)

			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			zlog.Warn("UDP read failed", "error", err.Error())
			continue
		}

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.bufferPool.Put(buf)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)

			s.process(buf, n, remote)
		}()
	}
}

// process runs one datagram through the chain. The handlers are
// synchronous, so the pooled buffer is free again when the chain returns.
func (s *Server) process(buf *[]byte, n int, remote *net.UDPAddr) {
	w := &udpWriter{conn: s.conn, remote: remote}

	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, (*buf)[:n])
	ch.Next(s.ctx)

	s.chainPool.Put(ch)
	s.bufferPool.Put(buf)
}

// udpWriter replies to the datagram's source address over the shared
// listening socket.
type udpWriter struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

func (w *udpWriter) WriteReply(b []byte) (int, error) {
	return w.conn.WriteToUDP(b, w.remote)
}

func (w *udpWriter) LocalAddr() net.Addr { return w.conn.LocalAddr() }

func (w *udpWriter) RemoteAddr() net.Addr { return w.remote }
