// Package server implements the parley relay: a TCP listener whose
// connections feed a single-threaded event loop that frames, routes and
// fans out messages between logged-in clients, with a heartbeat monitor
// reaping silent peers.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/parley-im/parley"
)

// Server accepts connections and runs the event loop, router and
// heartbeat monitor over them.
type Server struct {
	listener net.Listener
	logger   parley.Logger
	opts     options

	roster *Roster
	files  *FileTable
	loop   *eventLoop

	nextID atomic.Int64

	mu       sync.Mutex
	shutdown bool
}

// New creates a server bound to addr. Returns an error if the address
// cannot be bound.
func New(addr *net.TCPAddr, opt ...Option) (*Server, error) {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}

	tcp, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	var listener net.Listener = tcp
	if opts.acceptLimit > 0 {
		listener = netutil.LimitListener(tcp, opts.acceptLimit)
	}

	s := &Server{
		listener: listener,
		logger:   opts.logger,
		opts:     opts,
		roster:   NewRoster(),
		files:    NewFileTable(),
	}
	s.loop = newEventLoop(s.logger, s.roster, s.files)
	s.loop.router = newRouter(s.roster, s.files, s.loop, s.logger, opts.maxOnline)
	return s, nil
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run starts the accept loop, the event loop and the heartbeat monitor and
// blocks until ctx is canceled or an unrecoverable error occurs. Every
// remaining client is disconnected before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.loop.run(child)
	})
	group.Go(func() error {
		return s.heartbeatLoop(child)
	})
	group.Go(func() error {
		// Unblock Accept when the group winds down. Closing the listener
		// (not a deadline) also releases an Accept parked on the accept
		// limiter's semaphore.
		<-child.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return s.listener.Close()
	})
	group.Go(func() error {
		return s.acceptLoop(child)
	})

	err := group.Wait()

	if err != nil && err != context.Canceled {
		s.logger.Info("server stopped with error", "error", err)
		return err
	}
	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return nil
}

// acceptLoop accepts sockets and registers them with the event loop.
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown || ctx.Err() != nil {
				return ctx.Err()
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		if tc, ok := raw.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		id := s.nextID.Add(1)
		c := newConn(id, raw, s.logger, s.opts.sendQueueDepth, s.opts.heartbeatTimeout*2)
		s.loop.register(c)
	}
}
