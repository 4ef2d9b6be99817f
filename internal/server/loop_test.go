package server

import (
	"context"
	"testing"
	"time"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

// newTestLoop wires an event loop with a real router for direct,
// single-threaded testing: events are injected via handleEvent instead of
// running the loop goroutine.
func newTestLoop(t *testing.T) *eventLoop {
	t.Helper()
	roster := NewRoster()
	files := NewFileTable()
	l := newEventLoop(parley.DefaultLogger(), roster, files)
	l.router = newRouter(roster, files, l, parley.DefaultLogger(), defaultMaxOnline)
	l.ctx = context.Background()
	l.running.Store(true)
	return l
}

func registerTestConn(t *testing.T, l *eventLoop, id int64) *conn {
	t.Helper()
	serverConn, clientConn := createTestTCPPair(t)
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	// wired the way evRegister does it, but without starting the conn
	// goroutines: these tests drive the loop synchronously and inspect
	// sendq directly.
	c := newConn(id, serverConn, parley.DefaultLogger(), 16, time.Second)
	c.requestDisconnect = l.queueDisconnect
	l.conns[id] = c
	l.roster.Add(id, c.addr())
	return c
}

func TestLoop_DispatchesToRouter(t *testing.T) {
	l := newTestLoop(t)
	c := registerTestConn(t, l, 1)

	l.handleEvent(event{kind: evData, connID: 1, data: protocol.EncodeHeartbeatRequest(9)})

	select {
	case frame := <-c.sendq:
		h, err := protocol.ParseHeader(frame)
		if err != nil {
			t.Fatalf("parse header: %v", err)
		}
		if h.Type != protocol.MsgHeartbeatRsp || h.Sequence != 9 {
			t.Errorf("reply = type 0x%04x seq %d, want heartbeat rsp seq 9", h.Type, h.Sequence)
		}
	default:
		t.Fatal("no reply queued")
	}
}

func TestLoop_ClosingConnGetsNoDispatch(t *testing.T) {
	l := newTestLoop(t)
	c := registerTestConn(t, l, 1)

	// bytes that arrive after the conn is queued for disconnect are dropped
	c.requestClose("test")
	l.handleEvent(event{kind: evData, connID: 1, data: protocol.EncodeHeartbeatRequest(9)})

	select {
	case <-c.sendq:
		t.Fatal("closing conn still dispatched to router")
	default:
	}
}

func TestLoop_DataForUnknownConnDropped(t *testing.T) {
	l := newTestLoop(t)
	// no panic, no effect
	l.handleEvent(event{kind: evData, connID: 42, data: protocol.EncodeHeartbeatRequest(1)})
}

func TestLoop_DrainDedupesAndTearsDown(t *testing.T) {
	l := newTestLoop(t)
	registerTestConn(t, l, 1)
	registerTestConn(t, l, 2)

	if got := len(l.roster.AllConnIDs()); got != 2 {
		t.Fatalf("roster size = %d, want 2", got)
	}

	l.queueDisconnect(2)
	l.queueDisconnect(1)
	l.queueDisconnect(2)
	l.queueDisconnect(2)
	l.drainDisconnects()

	if got := len(l.conns); got != 0 {
		t.Errorf("conns remaining = %d, want 0", got)
	}
	if got := len(l.roster.AllConnIDs()); got != 0 {
		t.Errorf("roster size = %d, want 0", got)
	}

	// draining again is a no-op
	l.drainDisconnects()
}

func TestLoop_TeardownErasesFileSessions(t *testing.T) {
	l := newTestLoop(t)
	registerTestConn(t, l, 1)
	registerTestConn(t, l, 2)

	l.files.Insert(testFileID, 1)
	l.files.BindReceiver(testFileID, 2)

	l.queueDisconnect(1)
	l.drainDisconnects()

	if l.files.Len() != 0 {
		t.Error("file session survived endpoint teardown")
	}
}

func TestLoop_SendRefusalDisconnectsTarget(t *testing.T) {
	l := newTestLoop(t)
	c := registerTestConn(t, l, 1)

	// fill the queue with no writer draining it
	for i := 0; i < 16; i++ {
		if err := c.queueSend([]byte{byte(i)}); err != nil {
			t.Fatalf("prefill failed: %v", err)
		}
	}

	if l.send(1, []byte{0xff}) {
		t.Error("send reported success on a full queue")
	}
	if !c.closing.Load() {
		t.Error("overflowing target not marked closing")
	}

	l.pendingMu.Lock()
	queued := len(l.pendingDisconnects)
	l.pendingMu.Unlock()
	if queued != 1 {
		t.Errorf("pending disconnects = %d, want 1", queued)
	}
}
