package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// monitor probes every registered client once per heartbeat interval until
// ctx is done.
func (h *Hub) monitor(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep reaps clients that did not answer the previous ping and pings the
// rest. A client goes at most two sweeps without a pong.
func (h *Hub) sweep() {
	for _, c := range h.registry.Snapshot() {
		if !c.alive.CompareAndSwap(true, false) {
			h.log.Debug("heartbeat missed", zap.String("subject_id", c.SubjectID()))
			h.teardown(c, ReasonHeartbeatTimeout)
			continue
		}
		if err := c.ping(); err != nil {
			h.log.Debug("ping failed", zap.String("subject_id", c.SubjectID()), zap.Error(err))
			h.teardown(c, ReasonPingFailed)
		}
	}
}
