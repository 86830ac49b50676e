package immix

import (
	"sync"

	"github.com/immixgc/core/vm"
	"go.uber.org/atomic"
)

// forwardingState is the three-state protocol concurrent tracers racing
// to copy the same object use to agree on a winner instead of
// double-copying it.
type forwardingState uint8

const (
	notForwarded forwardingState = iota
	beingForwarded
	forwarded
)

// forwardingRecord is the per-object forwarding word. state is the CAS
// arbiter; target is only valid once state observes forwarded.
type forwardingRecord struct {
	state  atomic.Uint32
	target atomic.Uintptr
}

// attemptToForward claims the right to copy obj. While a claim is held it
// returns true to exactly one caller; every other concurrent caller
// spins on spinForward until that winner publishes the forwarded target
// or reverts to NOT_FORWARDED. After a revert, a later caller can claim
// obj again.
func (s *ImmixSpace) attemptToForward(obj vm.ObjectRef) (rec *forwardingRecord, winner bool) {
	v, _ := s.fwd.LoadOrStore(obj, &forwardingRecord{})
	rec = v.(*forwardingRecord)
	return rec, rec.state.CompareAndSwap(uint32(notForwarded), uint32(beingForwarded))
}

// spinForward busy-waits while another thread's copy of obj is in
// flight. If the winner publishes a copy, the spinner returns it; if the
// winner instead reverts to NOT_FORWARDED (it chose not to move obj --
// pinned, copy reserve exhausted, already marked, or allocation
// failure), the spinner returns obj itself. This is a bounded spin: the
// winner never blocks (copying is lock-free), so the loser's wait is
// short and does not itself need a scheduler yield registered as a
// safepoint.
func (rec *forwardingRecord) spinForward(obj vm.ObjectRef) vm.ObjectRef {
	for {
		switch forwardingState(rec.state.Load()) {
		case beingForwarded:
			// still in flight; keep spinning.
		case forwarded:
			return vm.ObjectRef(rec.target.Load())
		default: // notForwarded: winner chose not to move obj.
			return obj
		}
	}
}

// publishForwarded records dst as obj's forwarded target and releases
// any spinning losers.
func (rec *forwardingRecord) publishForwarded(dst vm.ObjectRef) {
	rec.target.Store(uintptr(dst))
	rec.state.Store(uint32(forwarded))
}

// forwardedTarget reports obj's forwarding target if one has already been
// published (without spinning).
func (s *ImmixSpace) forwardedTarget(obj vm.ObjectRef) (vm.ObjectRef, bool) {
	v, ok := s.fwd.Load(obj)
	if !ok {
		return 0, false
	}
	rec := v.(*forwardingRecord)
	if rec.state.Load() != uint32(forwarded) {
		return 0, false
	}
	return vm.ObjectRef(rec.target.Load()), true
}

// clearForwardingBitsMu serializes the bulk clear below; it runs once per
// GC on a single worker, so contention is not a concern.
var clearForwardingBitsMu sync.Mutex

// ClearForwardingBits drops every forwarding record, matching
// StickyImmix's per-nursery-GC ClearVOBits stage: forwarding state from
// a prior nursery collection must not leak into the next one.
func (s *ImmixSpace) ClearForwardingBits() {
	clearForwardingBitsMu.Lock()
	defer clearForwardingBitsMu.Unlock()
	s.fwd.Range(func(k, _ any) bool {
		s.fwd.Delete(k)
		return true
	})
}
