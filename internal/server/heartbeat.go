package server

import (
	"context"
	"time"
)

// heartbeatLoop is the auxiliary worker that reaps silent connections. It
// wakes every interval, queues a deferred disconnect for every connection
// past the timeout threshold and logs the online count. It never touches
// connection state directly; the event loop does the teardown.
func (s *Server) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, id := range s.roster.TimedOut(s.opts.heartbeatTimeout) {
				s.logger.Info("heartbeat timeout", "conn", id)
				s.loop.queueDisconnect(id)
			}
			s.logger.Info("status", "online", s.roster.OnlineCount())
		}
	}
}
