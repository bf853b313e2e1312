package session

import (
	"sync"

	"github.com/e7canasta/rov-host/control"
)

// pendingSlot is a single-slot mailbox for the next control packet.
//
// publish overwrites whatever is waiting; the send loop peeks the latest
// packet and acknowledges it by sequence number once delivered, so a packet
// that arrived during the send stays pending.
type pendingSlot struct {
	mu      sync.Mutex
	packet  control.ControlPacket
	pending bool
	seq     uint64

	overwritten uint64
}

// publish stores p and reports whether an unsent packet was replaced.
func (s *pendingSlot) publish(p control.ControlPacket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.pending
	if replaced {
		s.overwritten++
	}
	s.packet = p
	s.pending = true
	s.seq++
	return replaced
}

func (s *pendingSlot) peek() (control.ControlPacket, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packet, s.seq, s.pending
}

// ack clears the slot if nothing newer than seq was published.
func (s *pendingSlot) ack(seq uint64) {
	s.mu.Lock()
	if s.seq == seq {
		s.pending = false
	}
	s.mu.Unlock()
}

func (s *pendingSlot) stats() (pending bool, overwritten uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.overwritten
}
