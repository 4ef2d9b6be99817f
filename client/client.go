// Package client implements the parley client side: connection lifecycle,
// the mirror parse path of the wire protocol, the heartbeat timer, and
// chunked file transfers. Received events surface through callback options;
// the package has no opinion about the user interface on top.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

const (
	readBufferSize = 4096
	writeTimeout   = 10 * time.Second
)

// ErrClosed is returned when operating on a closed client.
var ErrClosed = errors.New("client closed")

// Client is one connection to a parley server.
type Client struct {
	logger parley.Logger
	opts   options

	raw    net.Conn
	framer protocol.Framer

	seq atomic.Uint32

	writeMu sync.Mutex

	mu       sync.Mutex
	clientID string
	nickname string
	online   bool
	users    []protocol.UserInfo

	transfers transferTable

	closed atomic.Bool
	cancel context.CancelFunc
}

// Dial connects to a server at addr ("host:port") and returns a client
// ready for Run.
func Dial(addr string, opt ...Option) (*Client, error) {
	opts := defaultClientOptions()
	for _, o := range opt {
		o(&opts)
	}

	raw, err := net.DialTimeout("tcp", addr, opts.dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c := &Client{
		logger: opts.logger,
		opts:   opts,
		raw:    raw,
	}
	c.transfers.init()
	return c, nil
}

// Run drives the read loop and the heartbeat timer until ctx is canceled,
// the server goes away, or Close is called. It always returns with the
// socket closed.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})
	group.Go(func() error {
		return c.heartbeatLoop(child)
	})
	group.Go(func() error {
		<-child.Done()
		return c.Close()
	})

	err := group.Wait()
	c.transfers.failAll(c.opts.onTransferDone, "connection closed")

	if err != nil && err != context.Canceled && err != ErrClosed {
		if c.opts.onDisconnect != nil {
			c.opts.onDisconnect(err)
		}
		return err
	}
	if c.opts.onDisconnect != nil {
		c.opts.onDisconnect(nil)
	}
	return nil
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.raw.Close()
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// Identity returns the clientID and nickname sent with the last login.
func (c *Client) Identity() (clientID, nickname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.nickname
}

// Online reports whether the last login attempt succeeded.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Users returns the most recent user list pushed or requested.
func (c *Client) Users() []protocol.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.UserInfo, len(c.users))
	copy(out, c.users)
	return out
}

// Login submits a login request. The outcome arrives via OnLoginResponse.
func (c *Client) Login(clientID, nickname string) error {
	c.mu.Lock()
	c.clientID = clientID
	c.nickname = nickname
	c.mu.Unlock()
	return c.send(protocol.EncodeLoginRequest(c.nextSeq(), clientID, nickname))
}

// Logout asks the server to drop this connection.
func (c *Client) Logout() error {
	return c.send(protocol.EncodeLogoutRequest(c.nextSeq()))
}

// SendGroupMessage sends a chat line to every online peer.
func (c *Client) SendGroupMessage(text string) error {
	return c.sendChat(protocol.ChatGroup, "", text)
}

// SendPrivateMessage sends a chat line to one peer by client id.
func (c *Client) SendPrivateMessage(toID, text string) error {
	return c.sendChat(protocol.ChatPrivate, toID, text)
}

func (c *Client) sendChat(scope byte, toID, text string) error {
	clientID, nickname := c.Identity()
	return c.send(protocol.EncodeChatMessage(c.nextSeq(), protocol.ChatMessage{
		Scope:    scope,
		FromID:   clientID,
		FromNick: nickname,
		ToID:     toID,
		Text:     text,
		// zero timestamp: the server stamps it
	}))
}

// RequestUserList asks for a fresh roster snapshot.
func (c *Client) RequestUserList() error {
	return c.send(protocol.EncodeUserListRequest(c.nextSeq()))
}

func (c *Client) nextSeq() uint32 {
	return c.seq.Add(1)
}

// send writes one frame, serialized against concurrent senders so frames
// never interleave on the wire.
func (c *Client) send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.raw.Write(frame); err != nil {
		return errors.Wrap(err, "send frame")
	}
	return nil
}

// readLoop receives, frames and dispatches until the socket dies.
func (c *Client) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			if ferr := c.framer.Feed(buf[:n], c.handleFrame); ferr != nil {
				c.logger.Warn("corrupt stream from server", "error", ferr)
			}
		}
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return ErrClosed
			}
			return errors.Wrap(err, "server connection lost")
		}
	}
}

// heartbeatLoop sends a heartbeat every interval to keep the server's
// liveness clock fresh.
func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.send(protocol.EncodeHeartbeatRequest(c.nextSeq())); err != nil {
				return err
			}
		}
	}
}

// handleFrame dispatches one complete inbound frame.
func (c *Client) handleFrame(h protocol.Header, body []byte) {
	switch h.Type {
	case protocol.MsgHeartbeatRsp:
		c.logger.Debug("heartbeat acknowledged", "seq", h.Sequence)

	case protocol.MsgLoginRsp:
		rsp, err := protocol.DecodeLoginResponse(body)
		if err != nil {
			c.logger.Warn("bad login response", "error", err)
			return
		}
		c.mu.Lock()
		c.online = rsp.Result == protocol.LoginSuccess
		c.mu.Unlock()
		if c.opts.onLoginResponse != nil {
			c.opts.onLoginResponse(rsp.Result, rsp.Message)
		}

	case protocol.MsgChat:
		msg, err := protocol.DecodeChatMessage(body)
		if err != nil {
			c.logger.Warn("bad chat message", "error", err)
			return
		}
		if c.opts.onChatMessage != nil {
			c.opts.onChatMessage(msg)
		}

	case protocol.MsgUserListRsp:
		users, err := protocol.DecodeUserListResponse(body)
		if err != nil {
			c.logger.Warn("bad user list", "error", err)
			return
		}
		c.mu.Lock()
		c.users = users
		c.mu.Unlock()
		if c.opts.onUserList != nil {
			c.opts.onUserList(users)
		}

	case protocol.MsgFileOffer:
		offer, err := protocol.DecodeFileOffer(body)
		if err != nil {
			c.logger.Warn("bad file offer", "error", err)
			return
		}
		c.transfers.rememberOffer(offer)
		if c.opts.onFileOffer != nil {
			c.opts.onFileOffer(offer)
		}

	case protocol.MsgFileOfferRsp:
		rsp, err := protocol.DecodeFileOfferResponse(body)
		if err != nil {
			c.logger.Warn("bad file offer response", "error", err)
			return
		}
		c.handleOfferResponse(rsp)
		if c.opts.onFileOfferResponse != nil {
			c.opts.onFileOfferResponse(rsp)
		}

	case protocol.MsgFileData:
		c.handleFileData(body)

	case protocol.MsgFileDataAck:
		c.logger.Debug("file data ack", "fileId", protocol.FileIDFromBody(body))

	default:
		c.logger.Debug("unhandled message type", "type", h.Type)
	}
}
