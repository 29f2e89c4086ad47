package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-relay/pkg/state"
	"golang.org/x/sync/errgroup"
)

func encodeFrame(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal '%s' payload: %w", event, err)
	}
	frame, err := json.Marshal(ClientMessage{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal '%s' envelope: %w", event, err)
	}
	return frame, nil
}

// emit encodes one event and queues it on every peer. It returns once the
// frame is queued everywhere, so consecutive emits reach each peer in order.
func (r *EventRouter) emit(peers []state.Peer, event string, payload any) {
	if len(peers) == 0 {
		return
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		r.logger.Error("Dropping outbound event", slog.String("event", event), slog.Any("error", err))
		return
	}

	if r.opts.FanoutWorkers <= 1 || len(peers) < r.opts.FanoutParallelThreshold {
		for _, p := range peers {
			p.Send(frame)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.opts.FanoutWorkers)
		for _, p := range peers {
			p := p
			g.Go(func() error {
				p.Send(frame)
				return nil
			})
		}
		_ = g.Wait()
	}
	r.logger.Debug("Notified peers", slog.String("event", event), slog.Int("connection_count", len(peers)))
}

func (r *EventRouter) emitTo(peer state.Peer, event string, payload any) {
	if peer == nil {
		return
	}
	r.emit([]state.Peer{peer}, event, payload)
}
