package client

import (
	"time"

	"github.com/parley-im/parley"
	"github.com/parley-im/parley/protocol"
)

// Default configuration values.
const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
)

// options holds the configuration for a Client.
type options struct {
	logger            parley.Logger
	heartbeatInterval time.Duration
	dialTimeout       time.Duration

	onLoginResponse     func(result uint32, message string)
	onChatMessage       func(msg protocol.ChatMessage)
	onUserList          func(users []protocol.UserInfo)
	onFileOffer         func(offer protocol.FileOffer)
	onFileOfferResponse func(rsp protocol.FileOfferResponse)
	onTransferProgress  func(fileID string, transferred, total uint64, incoming bool)
	onTransferDone      func(fileID string, incoming, ok bool, message string)
	onDisconnect        func(err error)
}

// Option is a function that configures client options.
type Option func(*options)

func defaultClientOptions() options {
	return options{
		logger:            parley.DefaultLogger(),
		heartbeatInterval: defaultHeartbeatInterval,
		dialTimeout:       defaultDialTimeout,
	}
}

// LoggerOption sets the logger. If not set, the default slog logger is used.
func LoggerOption(logger parley.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// HeartbeatIntervalOption sets how often the client pings the server.
func HeartbeatIntervalOption(d time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = d
	}
}

// DialTimeoutOption bounds the initial connection attempt.
func DialTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// OnLoginResponseOption sets the callback for login outcomes.
func OnLoginResponseOption(cb func(result uint32, message string)) Option {
	return func(o *options) {
		o.onLoginResponse = cb
	}
}

// OnChatMessageOption sets the callback for received chat lines.
func OnChatMessageOption(cb func(msg protocol.ChatMessage)) Option {
	return func(o *options) {
		o.onChatMessage = cb
	}
}

// OnUserListOption sets the callback for roster updates, both requested and
// server-pushed.
func OnUserListOption(cb func(users []protocol.UserInfo)) Option {
	return func(o *options) {
		o.onUserList = cb
	}
}

// OnFileOfferOption sets the callback for incoming file offers. The
// application answers with AcceptOffer or DeclineOffer.
func OnFileOfferOption(cb func(offer protocol.FileOffer)) Option {
	return func(o *options) {
		o.onFileOffer = cb
	}
}

// OnFileOfferResponseOption sets the callback for answers to offers this
// client sent.
func OnFileOfferResponseOption(cb func(rsp protocol.FileOfferResponse)) Option {
	return func(o *options) {
		o.onFileOfferResponse = cb
	}
}

// OnTransferProgressOption sets the callback invoked as chunks move.
func OnTransferProgressOption(cb func(fileID string, transferred, total uint64, incoming bool)) Option {
	return func(o *options) {
		o.onTransferProgress = cb
	}
}

// OnTransferDoneOption sets the callback invoked when a transfer finishes
// or fails.
func OnTransferDoneOption(cb func(fileID string, incoming, ok bool, message string)) Option {
	return func(o *options) {
		o.onTransferDone = cb
	}
}

// OnDisconnectOption sets the callback invoked when the connection ends.
// err is nil on a locally requested close.
func OnDisconnectOption(cb func(err error)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}
