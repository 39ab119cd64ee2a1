package agentrt

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// Heartbeat periodically reports RunningCount up the link so Console's
// reconciliation sweep (§4.F) can tell a quiet Agent from a dead one.
type Heartbeat struct {
	rt       *Runtime
	uplink   Uplink
	logger   *slog.Logger
	interval time.Duration
}

func NewHeartbeat(rt *Runtime, uplink Uplink, logger *slog.Logger, interval time.Duration) *Heartbeat {
	return &Heartbeat{rt: rt, uplink: uplink, logger: logger.With("component", "agentrt_heartbeat"), interval: interval}
}

func (h *Heartbeat) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat started", "interval", h.interval)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat shut down")
			return
		case <-ticker.C:
			if err := h.uplink.Send(wire.KindHeartbeat, "", wire.HeartbeatPayload{
				RunningCount: h.rt.RunningCount(),
			}); err != nil {
				h.logger.Warn("heartbeat send failed", "error", err)
			}
		}
	}
}
