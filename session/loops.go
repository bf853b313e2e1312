package session

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/internal/metrics"
	"github.com/e7canasta/rov-host/internal/rpc"
)

// pollLoop fetches telemetry every pollInterval. The first RPC error is
// returned and ends the session.
func (s *Session) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, ok, err := s.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: poll: %w", err)
		}
		if !ok {
			continue
		}

		s.polls.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.emit(TelemetryReceived{Vehicle: s.vehicle, Info: sortedPairs(info), At: time.Now()})
	}
}

func (s *Session) poll(ctx context.Context) (map[string]string, bool, error) {
	if s.busy.Load() {
		return nil, false, nil
	}
	s.channel.RLock()
	defer s.channel.RUnlock()
	if s.busy.Load() {
		return nil, false, nil
	}

	var info map[string]string
	if err := s.client.Call(ctx, rpc.MethodGetInfo, nil, &info); err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// sendLoop delivers the pending packet at inputRate ticks per second.
func (s *Session) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.inputRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.sendPending(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: send: %w", err)
		}
	}
}

func (s *Session) sendPending(ctx context.Context) error {
	if s.busy.Load() {
		return nil
	}
	s.channel.RLock()
	defer s.channel.RUnlock()
	if s.busy.Load() {
		return nil
	}

	p, seq, ok := s.slot.peek()
	if !ok {
		return nil
	}
	if _, err := s.client.Batch(ctx, packetRequests(p)); err != nil {
		return err
	}

	s.slot.ack(seq)
	s.sent.Add(1)
	metrics.CommandsSentTotal.WithLabelValues(s.vehicle).Inc()
	s.logger.Debug("session: packet sent", "seq", seq, "motion", p.Motion, "catch", p.Catch)
	return nil
}

// packetRequests expands a packet into the batch the vehicle expects.
func packetRequests(p control.ControlPacket) []rpc.Request {
	return []rpc.Request{
		{Method: rpc.MethodMove, Params: p.Motion},
		{Method: rpc.MethodSetDepthLocked, Params: rpc.Positional(p.DepthLocked)},
		{Method: rpc.MethodSetDirectionLocked, Params: rpc.Positional(p.DirectionLocked)},
		{Method: rpc.MethodCatch, Params: rpc.Positional(p.Catch)},
	}
}
