package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

// wakeInterval bounds how long the loop sleeps with no traffic, so queued
// disconnects and the stop signal are observed promptly.
const wakeInterval = time.Second

type eventKind int

const (
	evRegister eventKind = iota
	evData
)

// event is one unit of work for the loop: a new connection to register, or
// a byte slice read from an existing one.
type event struct {
	kind   eventKind
	conn   *conn
	connID int64
	data   []byte
}

// eventLoop is the single goroutine that owns every connection: the conn
// map, framer state, roster mutation and router dispatch all happen here.
// Other goroutines only post events or queue disconnects, so handlers never
// race and a connection is never torn down mid-dispatch.
type eventLoop struct {
	logger parley.Logger
	roster *Roster
	files  *FileTable
	router *router

	events chan event
	conns  map[int64]*conn

	pendingMu          sync.Mutex
	pendingDisconnects []int64

	running atomic.Bool

	ctx context.Context
}

func newEventLoop(logger parley.Logger, roster *Roster, files *FileTable) *eventLoop {
	l := &eventLoop{
		logger: logger,
		roster: roster,
		files:  files,
		events: make(chan event, 1024),
		conns:  make(map[int64]*conn),
	}
	return l
}

// register hands a freshly accepted connection to the loop.
func (l *eventLoop) register(c *conn) {
	l.events <- event{kind: evRegister, conn: c}
}

// queueDisconnect enqueues a deferred disconnect. Safe from any goroutine;
// the loop drains the queue between dispatch batches.
func (l *eventLoop) queueDisconnect(connID int64) {
	l.pendingMu.Lock()
	l.pendingDisconnects = append(l.pendingDisconnects, connID)
	l.pendingMu.Unlock()
}

// disconnectQueued reports whether connID is waiting in the deferred
// disconnect queue.
func (l *eventLoop) disconnectQueued(connID int64) bool {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	for _, id := range l.pendingDisconnects {
		if id == connID {
			return true
		}
	}
	return false
}

// run processes events until ctx is canceled, draining the disconnect
// queue at the top and bottom of every batch. On exit every remaining
// connection is torn down.
func (l *eventLoop) run(ctx context.Context) error {
	l.ctx = ctx
	l.running.Store(true)
	defer l.running.Store(false)

	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	for {
		l.drainDisconnects()

		select {
		case <-ctx.Done():
			l.cleanup()
			return ctx.Err()
		case ev := <-l.events:
			l.handleEvent(ev)
			l.drainBatch()
		case <-ticker.C:
		}

		l.drainDisconnects()
	}
}

// drainBatch consumes whatever further events are immediately available so
// one wakeup handles one batch, like one poll return.
func (l *eventLoop) drainBatch() {
	for {
		select {
		case ev := <-l.events:
			l.handleEvent(ev)
		default:
			return
		}
	}
}

func (l *eventLoop) handleEvent(ev event) {
	switch ev.kind {
	case evRegister:
		c := ev.conn
		c.requestDisconnect = l.queueDisconnect
		l.conns[c.id] = c
		l.roster.Add(c.id, c.addr())
		connCtx, cancel := context.WithCancel(l.ctx)
		c.cancel = cancel
		go c.run(connCtx, l.events)
		l.logger.Info("connect", "conn", c.id, "addr", c.addr())

	case evData:
		// Fresh lookup by id: the conn may have been torn down, or queued
		// for disconnect, after this event was posted.
		c, ok := l.conns[ev.connID]
		if !ok || c.closing.Load() || l.disconnectQueued(ev.connID) {
			return
		}
		err := c.framer.Feed(ev.data, func(h protocol.Header, body []byte) {
			if c.closing.Load() || l.disconnectQueued(ev.connID) {
				return
			}
			l.router.onMessage(ev.connID, h, body)
		})
		if err != nil {
			// Corrupt stream: the framer dropped its accumulator and will
			// resync at the next header that parses. The connection stays
			// open.
			l.logger.Warn("corrupt stream", "conn", ev.connID, "error", err)
		}
	}
}

// send queues a frame on the target connection, resolving it afresh by id.
// A refusal (unknown conn, closing, backlog full) disconnects the target;
// the sender sees only the boolean.
func (l *eventLoop) send(connID int64, frame []byte) bool {
	c, ok := l.conns[connID]
	if !ok || c.closing.Load() {
		return false
	}
	if err := c.queueSend(frame); err != nil {
		c.requestClose("send backlog")
		return false
	}
	return true
}

// drainDisconnects tears down every queued connection: dedupe, sort, then
// remove each from the loop, roster and file table before closing the
// socket. A user-list broadcast follows iff the server is still running
// and anything was actually removed.
func (l *eventLoop) drainDisconnects() {
	l.pendingMu.Lock()
	if len(l.pendingDisconnects) == 0 {
		l.pendingMu.Unlock()
		return
	}
	pending := l.pendingDisconnects
	l.pendingDisconnects = nil
	l.pendingMu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	removed := 0
	var last int64
	for i, id := range pending {
		if i > 0 && id == last {
			continue
		}
		last = id
		if l.teardown(id) {
			removed++
		}
	}

	if removed > 0 && l.running.Load() && l.ctx.Err() == nil {
		l.router.broadcastUserList()
	}
}

// teardown removes one connection everywhere and closes its socket.
// Returns false when the id is already gone.
func (l *eventLoop) teardown(connID int64) bool {
	c, ok := l.conns[connID]
	if !ok {
		return false
	}
	delete(l.conns, connID)
	l.roster.Remove(connID)
	c.framer.Reset()
	l.files.DropConn(connID)
	c.shutdown()
	l.logger.Info("disconnect", "conn", connID, "addr", c.addr())
	return true
}

// cleanup disconnects every remaining client on shutdown.
func (l *eventLoop) cleanup() {
	for id := range l.conns {
		l.queueDisconnect(id)
	}
	l.pendingMu.Lock()
	pending := l.pendingDisconnects
	l.pendingDisconnects = nil
	l.pendingMu.Unlock()
	for _, id := range pending {
		l.teardown(id)
	}
}
