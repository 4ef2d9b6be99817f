package server

import (
	"time"

	"github.com/parley-im/parley"
)

// Default configuration values.
const (
	defaultMaxOnline         = 1024
	defaultSendQueueDepth    = 256
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
)

// options holds the configuration for a Server.
type options struct {
	logger            parley.Logger
	maxOnline         int
	acceptLimit       int
	sendQueueDepth    int
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// Option is a function that configures server options.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:            parley.DefaultLogger(),
		maxOnline:         defaultMaxOnline,
		sendQueueDepth:    defaultSendQueueDepth,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
	}
}

// LoggerOption sets the logger. If not set, the default slog logger is used.
func LoggerOption(logger parley.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MaxOnlineOption caps the number of logged-in clients. Logins past the cap
// are rejected in-band with a server-full result.
func MaxOnlineOption(n int) Option {
	return func(o *options) {
		o.maxOnline = n
	}
}

// AcceptLimitOption caps the number of simultaneously accepted sockets at
// the listener, in front of the login cap. Zero disables the limit.
func AcceptLimitOption(n int) Option {
	return func(o *options) {
		o.acceptLimit = n
	}
}

// SendQueueDepthOption sets the per-connection outbound queue depth. A
// client that lets this many frames pile up is disconnected.
func SendQueueDepthOption(n int) Option {
	return func(o *options) {
		o.sendQueueDepth = n
	}
}

// HeartbeatIntervalOption sets how often the monitor scans for silent
// connections.
func HeartbeatIntervalOption(d time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = d
	}
}

// HeartbeatTimeoutOption sets how long a connection may stay silent before
// it is reaped.
func HeartbeatTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.heartbeatTimeout = d
	}
}
