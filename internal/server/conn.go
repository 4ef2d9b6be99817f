package server

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

// readBufferSize is the scratch buffer for one socket read.
const readBufferSize = 4096

// ErrSendBacklog is returned by queueSend when a peer stops draining and
// its outbound queue fills. The caller disconnects the peer.
var ErrSendBacklog = errors.New("send backlog full")

// conn wraps one accepted socket. A reader goroutine forwards raw byte
// slices to the event loop; a writer goroutine drains the bounded outbound
// queue. All protocol state (the framer, roster entry, file sessions) is
// owned by the event loop and keyed by the conn's id.
type conn struct {
	id     int64
	raw    net.Conn
	logger parley.Logger

	sendq   chan []byte
	closing atomic.Bool

	framer protocol.Framer

	writeTimeout time.Duration

	// requestDisconnect enqueues this conn on the loop's deferred
	// disconnect queue. Set at registration time.
	requestDisconnect func(id int64)

	cancel context.CancelFunc
}

func newConn(id int64, raw net.Conn, logger parley.Logger, queueDepth int, writeTimeout time.Duration) *conn {
	return &conn{
		id:           id,
		raw:          raw,
		logger:       logger,
		sendq:        make(chan []byte, queueDepth),
		writeTimeout: writeTimeout,
	}
}

func (c *conn) addr() string {
	if a := c.raw.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

// run starts the read and write loops and blocks until both exit. The
// socket close that unblocks them comes from shutdown, driven by the event
// loop's teardown; c.cancel is set by the loop before run starts.
func (c *conn) run(ctx context.Context, sink chan<- event) {
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child, sink)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	if err != nil && err != context.Canceled {
		c.logger.Debug("connection loops exited", "conn", c.id, "error", err)
	}
}

// readLoop receives into a scratch buffer and forwards each slice to the
// event loop. A read of zero bytes or a fatal error schedules a deferred
// close; transient deadline errors do not occur because reads carry no
// deadline.
func (c *conn) readLoop(ctx context.Context, sink chan<- event) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case sink <- event{kind: evData, connID: c.id, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				c.requestClose("peer closed")
			} else {
				c.logger.Debug("read error", "conn", c.id, "error", err)
				c.requestClose("read error")
			}
			return nil
		}
	}
}

// writeLoop drains the outbound queue in order. A write error schedules a
// deferred close; frames already queued behind the failure are abandoned
// with the connection.
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendq:
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if _, err := c.raw.Write(data); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("write error", "conn", c.id, "error", err)
				c.requestClose("send error")
				return nil
			}
		}
	}
}

// queueSend enqueues one frame for delivery, preserving call order. It
// never blocks: when the queue is full the frame is refused and the caller
// disconnects the peer.
func (c *conn) queueSend(frame []byte) error {
	if c.closing.Load() {
		return ErrSendBacklog
	}
	select {
	case c.sendq <- frame:
		return nil
	default:
		return ErrSendBacklog
	}
}

// requestClose makes the closing flag sticky and enqueues exactly one
// deferred disconnect. Further reads and sends become no-ops; the actual
// teardown happens on the event loop between dispatch batches.
func (c *conn) requestClose(reason string) {
	if c.closing.Swap(true) {
		return
	}
	c.logger.Info("disconnect queued", "conn", c.id, "addr", c.addr(), "reason", reason)
	if c.requestDisconnect != nil {
		c.requestDisconnect(c.id)
	}
}

// shutdown cancels the loops and closes the socket. Only the event loop's
// teardown calls it, after the conn has left every table.
func (c *conn) shutdown() {
	c.closing.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.raw.Close()
}
