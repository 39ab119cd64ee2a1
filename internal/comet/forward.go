package comet

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// ErrNotConnected/ErrLinkClosed mirror the dispatch outcome vocabulary in
// domain.DispatchOutcome (§4.C step 5) — the dispatcher maps these directly
// into DispatchFailedNotConnected / DispatchFailedLinkClosed.
var (
	ErrNotConnected = fmt.Errorf("comet: instance not connected to this comet")
	ErrLinkClosed   = fmt.Errorf("comet: link closed while forwarding")
)

// Forward sends payload, wrapped under kind, down the link for instanceID.
// It never retries — the dispatcher decides retry/backoff policy at a
// higher level (§4.A) — it only distinguishes "not connected here" from
// "write failed" so the caller can record the right dispatch_result.
func (s *Server) Forward(ctx context.Context, instanceID string, kind wire.Kind, id string, payload any) error {
	link, ok := s.registry.Get(instanceID)
	if !ok {
		metrics.CometForwardDroppedTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	f, err := wire.Encode(kind, id, time.Now(), payload)
	if err != nil {
		return fmt.Errorf("comet: encode forward frame: %w", err)
	}

	if err := link.Conn.WriteFrame(f); err != nil {
		metrics.CometForwardDroppedTotal.WithLabelValues("link_closed").Inc()
		return fmt.Errorf("%w: %v", ErrLinkClosed, err)
	}

	if dropped := link.Conn.Dropped(); dropped > 0 {
		s.emitLagging(instanceID, dropped)
	}
	return nil
}

// emitLagging synthesizes a LaggingPayload frame the dispatcher can surface
// to an operator, reflecting backpressure Comet itself observed on the
// outbound queue (§4.B backpressure; these frames never come from the
// Agent, only from Comet).
func (s *Server) emitLagging(instanceID string, dropped int) {
	if s.onUpstream == nil {
		return
	}
	f, err := wire.Encode(wire.KindLagging, "", time.Now(), wire.LaggingPayload{
		InstanceID: instanceID,
		Dropped:    dropped,
	})
	if err != nil {
		return
	}
	s.onUpstream(instanceID, f)
}

// IsConnected reports whether instanceID currently has a live link on this
// Comet. The dispatcher does not call it; it finds an instance's Comet
// through the shared routing index instead.
func (s *Server) IsConnected(instanceID string) bool {
	_, ok := s.registry.Get(instanceID)
	return ok
}
