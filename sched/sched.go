// Package sched is the run(deadline) convention described in spec §4.4:
// not a heavyweight scheduler object, but a thin wrapper that drives
// however many Processors share a master clock, in registration order,
// using deadlines rather than locks to keep them in lockstep. Because
// each CPU advances strictly up to (never past, except for whatever
// slack Run itself tolerates) a shared deadline before control returns
// here, the single goroutine driving Slice.Advance never needs to
// synchronize against another one: the interleaving is deterministic and
// sequential by construction.
package sched

// Processor is the minimal surface Slice needs from a CPU: advance to a
// cycle deadline and report how many cycles have elapsed since reset.
// Both *m68k.CPU and *z80.CPU satisfy this without sched importing
// either package (avoiding the import cycle spec §2 calls out).
type Processor interface {
	Run(deadline uint64)
	Cycles() uint64
}

// IdleAware is optionally implemented by a Processor that can detect it
// is parked on a tight polling loop. sched never acts on this itself —
// it only surfaces it via Slice.Idling, since only the host knows
// whether widening that CPU's next deadline is safe for the peripheral
// it's polling.
type IdleAware interface {
	IdleHint() (pc uint32, detected bool)
}

// Slice is an ordered set of Processors sharing one master clock.
// Registration order is the tie-break when two CPUs reach the same
// deadline in the same Advance call; the spec leaves this unconstrained
// beyond requiring it be deterministic, so registration order is it.
type Slice struct {
	CPUs []Processor
}

// Add registers a Processor. Order matters: it is the deterministic
// tie-break for same-deadline scheduling within a single Advance call.
func (s *Slice) Add(p Processor) {
	s.CPUs = append(s.CPUs, p)
}

// Advance runs every registered Processor up to deadline, in
// registration order. It does not interleave instruction-by-instruction
// across CPUs within one call — each CPU's own Run drains to the
// deadline before the next CPU starts — which is sufficient for the
// shared-bus visibility spec §5 requires (writes through bus.Map's
// aliased direct pages are visible to every Map instance immediately,
// regardless of which CPU's Run call is currently executing) without
// needing per-instruction synchronization.
func (s *Slice) Advance(deadline uint64) {
	for _, p := range s.CPUs {
		p.Run(deadline)
	}
}

// Idling reports, for each registered Processor that implements
// IdleAware, whether it is currently parked on a detected polling loop.
// Processors that don't implement IdleAware report false. The returned
// slice has the same length and order as CPUs.
func (s *Slice) Idling() []bool {
	result := make([]bool, len(s.CPUs))
	for i, p := range s.CPUs {
		if ia, ok := p.(IdleAware); ok {
			_, detected := ia.IdleHint()
			result[i] = detected
		}
	}
	return result
}

// Cycles returns each registered Processor's current cycle count, in
// registration order.
func (s *Slice) Cycles() []uint64 {
	result := make([]uint64, len(s.CPUs))
	for i, p := range s.CPUs {
		result[i] = p.Cycles()
	}
	return result
}
