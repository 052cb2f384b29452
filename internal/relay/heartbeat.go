package relay

import (
	"context"
	"time"
)

// runHeartbeat probes every registered connection on a fixed interval.
// A connection that never answered the previous probe is force-closed,
// which drives the same teardown path as a clean disconnect. Probes are
// fire-and-forget against a snapshot; no registry lock is held across
// any I/O.
func (h *Hub) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.config.Relay.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for userID, conn := range h.registry.Snapshot() {
				if !conn.sweep() {
					h.log.Infof("user %s: heartbeat timeout, terminating connection %s", userID, conn.id)
					conn.closeNow()
					continue
				}
				if err := conn.ping(); err != nil {
					h.log.Infof("user %s: heartbeat probe failed: %v", userID, err)
					conn.closeNow()
				}
			}
		}
	}
}
