// Package m68k implements a Motorola 68000 CPU emulator.
//
// The MC68000 is a 32-bit internal / 16-bit external CISC processor with:
//   - Eight 32-bit data registers (D0-D7)
//   - Eight 32-bit address registers (A0-A7), where A7 is the stack pointer
//   - A 32-bit program counter (24-bit external address bus)
//   - A 16-bit status register (system byte + condition code register)
//   - Dual stack pointers (USP for user mode, SSP for supervisor mode)
//
// A CPU instance drives either the MAIN or the SUB processor of the host
// system; both are the same type, wired to their own bus.Map.
package m68k

import "github.com/duskline/corecpu/bus"

// Bus is the narrow memory-access contract the CPU needs from its
// *bus.Map, so tests can substitute a flat test double instead of wiring
// up a full page table (mirroring the teacher engine's own Bus interface
// in cpu.go, adapted to this core's typed-width/function-code access
// shape). *bus.Map satisfies this directly.
type Bus interface {
	Read(w bus.Width, addr uint32, fc bus.FuncCode) uint32
	Write(w bus.Width, addr uint32, val uint32, fc bus.FuncCode)
}

// Registers holds the programmer-visible state of the MC68000.
type Registers struct {
	D   [8]uint32 // Data registers
	A   [8]uint32 // Address registers (A7 is active stack pointer)
	PC  uint32    // Program counter
	SR  uint16    // Status register
	USP uint32    // User stack pointer (shadowed)
	SSP uint32    // Supervisor stack pointer (shadowed)
	IR  uint16    // Instruction register (first word of executing instruction)
}

// Interrupt-acknowledge sentinels returned by the ack callback registered
// with SetIRQAckFunc. Any other return value is used directly as the
// exception vector number.
const (
	AutoVector     = -1
	SpuriousVector = -2
)

// IdleDetector flags a CPU spinning on the same PC with no forward
// progress, so a peripheral or the scheduler can widen its own polling
// interval instead of burning real interpreter cycles on a busy-wait. The
// core itself never skips cycles based on this.
type IdleDetector struct {
	pc       uint32
	armed    bool
	detected bool
}

// busFault is the scoped panic value that stands in for the source
// engine's setjmp/longjmp non-local exit out of a partially executed
// instruction. It never escapes CPU.Step or CPU.Run.
type busFault struct {
	bus   bool // true: raised via CPU.BusError by a peripheral; false: address error
	addr  uint32
	write bool
	instr bool
	fc    uint8 // 3-bit function code (supervisor/user x program/data), per groupZeroStatus
}

// CPU is the MC68000 processor.
type CPU struct {
	reg Registers
	mem Bus

	ir     uint16 // first word of the currently executing instruction
	prevPC uint32 // address of the currently executing instruction

	stopped bool // set by STOP, cleared when an interrupt is accepted
	halted  bool // set by a double group-0 fault

	cycles uint64
	// deficit carries a cost overrun from StepCycles into future calls.
	deficit int

	// Interrupt state. UpdateIRQ ORs a shared mask in; SetIRQ overwrites
	// the whole IPL; SetIRQDelay defers the overwrite by one instruction.
	intLevel       uint8
	ackFunc        func(level uint8) int
	irqDelayActive bool

	resetFunc   func()
	tasFunc     func() bool
	funcCodeLog func(supervisor, program bool)

	inGroup0 bool // unwinding a group-0 (reset/bus/address error) exception

	idle IdleDetector
}

// New creates a CPU wired to the given bus and performs a hardware reset.
// mem is almost always a *bus.Map, but any Bus satisfies it.
func New(mem Bus) *CPU {
	c := &CPU{mem: mem}
	c.Reset()
	return c
}

// Reset performs a hardware reset: loads SSP from address 0x000000 and PC
// from address 0x000004, enters supervisor mode with interrupts masked at
// level 7, and clears all transient execution state.
func (c *CPU) Reset() {
	c.reg = Registers{SR: 0x2700}
	c.stopped = false
	c.halted = false
	c.cycles = 0
	c.deficit = 0
	c.intLevel = 0
	c.irqDelayActive = false
	c.inGroup0 = false
	c.idle = IdleDetector{}

	ssp := c.mem.Read(bus.Long, 0, c.fc(true, false))
	c.reg.A[7] = ssp
	c.reg.SSP = ssp
	c.reg.PC = c.mem.Read(bus.Long, 4, c.fc(true, false))

	c.cycles += 40
}

// Halted reports whether the CPU is halted by a double group-0 fault.
func (c *CPU) Halted() bool {
	return c.halted
}

// SetIRQAckFunc registers the interrupt-acknowledge callback invoked when
// the CPU accepts an interrupt at a given level. The callback is
// responsible for clearing its own device's pending request; the CPU
// never clears intLevel on a peripheral's behalf. A nil callback (the
// default) always autovectors.
func (c *CPU) SetIRQAckFunc(fn func(level uint8) int) {
	c.ackFunc = fn
}

// SetResetFunc registers the hook invoked when the guest executes RESET —
// a machine-wide reset pulse to peripherals, distinct from a CPU reset.
func (c *CPU) SetResetFunc(fn func()) {
	c.resetFunc = fn
}

// SetTASFunc registers the hook consulted by TAS's indivisible
// read-modify-write. Returning false denies the write-back half; a nil
// hook (the default) always permits it.
func (c *CPU) SetTASFunc(fn func() bool) {
	c.tasFunc = fn
}

// SetFuncCodeHook registers a hook notified on every bus access with the
// supervisor/program classification. The core never interprets function
// codes itself.
func (c *CPU) SetFuncCodeHook(fn func(supervisor, program bool)) {
	c.funcCodeLog = fn
}

func (c *CPU) fc(supervisor, program bool) bus.FuncCode {
	if c.funcCodeLog != nil {
		c.funcCodeLog(supervisor, program)
	}
	return bus.FuncCode{Supervisor: supervisor, Program: program}
}

// funcCode3 packs the supervisor/program classification into the 68000's
// standard 3-bit function-code encoding (FC2-FC0): User Data=1, User
// Program=2, Supervisor Data=5, Supervisor Program=6. CPU-space accesses
// (FC=7) are not synthesized here; nothing in this core emits one.
func funcCode3(supervisor, program bool) uint8 {
	var v uint8 = 1
	if program {
		v = 2
	}
	if supervisor {
		v |= 4
	}
	return v
}

// UpdateIRQ ORs a 3-bit interrupt mask into the CPU's recorded IPL.
// Peripherals that share an interrupt line with other devices call this.
func (c *CPU) UpdateIRQ(mask uint8) {
	c.intLevel |= mask & 7
}

// SetIRQ overwrites the CPU's recorded IPL with level (0-7). Peripherals
// with a dedicated interrupt line call this.
func (c *CPU) SetIRQ(level uint8) {
	c.intLevel = level & 7
}

// SetIRQDelay overwrites the recorded IPL after letting exactly one more
// instruction retire, modeling the one-instruction interrupt latency seen
// when an IRQ is asserted from inside the currently executing instruction
// (e.g. a video control-port write). It refuses to re-enter itself, and —
// a narrow heuristic inherited unchanged rather than a general rule —
// refuses to run the extra instruction while a MOVE.L is mid-flight (top
// nibble of the instruction register == 0x2), since a MOVE.L performs two
// separate memory writes and this call may land between them.
func (c *CPU) SetIRQDelay(level uint8) {
	if c.irqDelayActive || c.halted || c.ir&0xF000 == 0x2000 {
		c.SetIRQ(level)
		return
	}

	c.irqDelayActive = true
	c.stepOnce()
	c.irqDelayActive = false

	c.SetIRQ(level)
	c.checkInterrupt()
}

// vectorFor resolves the exception vector for an accepted interrupt at
// level, consulting the registered ack callback.
func (c *CPU) vectorFor(level uint8) int {
	auto := vecAutoVector1 - 1 + int(level)
	if c.ackFunc == nil {
		return auto
	}
	switch v := c.ackFunc(level); v {
	case AutoVector:
		return auto
	case SpuriousVector:
		return vecSpuriousInterrupt
	default:
		return v
	}
}

// Step executes a single instruction and returns the number of master
// cycles consumed. Returns 0 if the CPU is halted.
func (c *CPU) Step() int {
	before := c.cycles
	c.stepOnce()
	return int(c.cycles - before)
}

// stepOnce runs one instruction, or one STOP/halt tick, including
// interrupt sampling. Factored out so SetIRQDelay can inline exactly one
// instruction without a double cycle-delta computation.
func (c *CPU) stepOnce() {
	if c.halted {
		return
	}

	if c.stopped {
		c.cycles += 4
		c.checkInterrupt()
		return
	}

	c.checkInterrupt()
	if c.halted || c.stopped {
		return
	}

	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			bf, ok := r.(busFault)
			if !ok {
				panic(r)
			}
			c.enterGroup0(bf)
		}()

		c.prevPC = c.reg.PC
		c.ir = c.fetchPCTagged()
		c.reg.IR = c.ir
		c.updateIdle()

		handler := opcodeTable[c.ir]
		if handler == nil {
			switch c.ir >> 12 {
			case 0xA:
				c.exception(vecLineA)
			case 0xF:
				c.exception(vecLineF)
			default:
				c.exception(vecIllegalInstruction)
			}
		} else {
			handler(c)
		}

		// Post-instruction odd-PC check: catches a branch/jump target
		// landing on an odd address. We don't model instruction prefetch,
		// so the faulting fetch is deferred to the start of the next
		// instruction rather than caught mid-branch; the already-retired
		// instruction's cycles stand.
		if !c.halted && c.reg.PC&1 != 0 {
			panic(busFault{addr: c.reg.PC, write: false, instr: true, fc: funcCode3(c.supervisor(), true)})
		}
	}()
}

// Run advances the CPU until its cycle count reaches deadline (in master
// cycles), or until it parks in STOP. Peripherals needing same-cycle
// interrupt delivery must update IRQ state before calling Run for the
// slice that should observe it.
func (c *CPU) Run(deadline uint64) {
	for c.cycles < deadline && !c.halted {
		c.stepOnce()
		if c.stopped {
			c.cycles = deadline
			return
		}
	}
}

// StepCycles executes a single instruction within the given cycle budget.
// If a previous instruction's cost exceeded its budget, the deficit is
// paid down first without executing a new instruction. When a new
// instruction's cost exceeds the budget, the excess is carried forward as
// a deficit. Returns the number of cycles consumed from this call's
// budget.
func (c *CPU) StepCycles(budget int) int {
	if c.halted {
		return 0
	}

	if c.deficit > 0 {
		if budget >= c.deficit {
			n := c.deficit
			c.deficit = 0
			return n
		}
		c.deficit -= budget
		return budget
	}

	cost := c.Step()
	if cost <= budget {
		return cost
	}

	c.deficit = cost - budget
	return budget
}

// Deficit returns the remaining cycle deficit from a previous StepCycles
// call whose instruction cost exceeded the supplied budget.
func (c *CPU) Deficit() int {
	return c.deficit
}

// Cycles returns the total master-cycle count since the last reset.
func (c *CPU) Cycles() uint64 {
	return c.cycles
}

// AddCycles advances the cycle counter by n without executing any
// instruction, e.g. to account for a DMA bus grant.
func (c *CPU) AddCycles(n uint64) {
	c.cycles += n
}

// Registers returns a snapshot of the current register state.
func (c *CPU) Registers() Registers {
	return c.reg
}

// IdleHint reports whether the CPU is currently parked on a detected
// memory-polling loop, and the PC of that loop.
func (c *CPU) IdleHint() (pc uint32, detected bool) {
	return c.idle.pc, c.idle.detected
}

// updateIdle feeds the idle-loop heuristic: refetching the same PC with
// no net progress flags a tight polling loop rather than forward
// progress.
func (c *CPU) updateIdle() {
	if !c.idle.armed || c.idle.pc != c.prevPC {
		c.idle = IdleDetector{pc: c.prevPC, armed: true}
		return
	}
	c.idle.detected = true
}

// RequestInterrupt overwrites the IPL exactly like SetIRQ; the vector
// argument is ignored since vectoring goes through SetIRQAckFunc. Kept for
// callers migrating from the priority-replaces-priority request shape.
func (c *CPU) RequestInterrupt(level uint8, _ *uint8) {
	c.SetIRQ(level)
}

// readBus reads from the memory map with 24-bit address masking. Word and
// long accesses to an odd address raise an address-error fault.
func (c *CPU) readBus(sz Size, addr uint32) uint32 {
	return c.readBusTagged(sz, addr, false)
}

func (c *CPU) readBusTagged(sz Size, addr uint32, instr bool) uint32 {
	if c.halted {
		return 0
	}
	if sz != Byte && addr&1 != 0 {
		panic(busFault{addr: addr & 0xFFFFFF, write: false, instr: instr, fc: funcCode3(c.supervisor(), instr)})
	}
	addr &= 0xFFFFFF
	return c.mem.Read(busWidth(sz), addr, c.fc(c.supervisor(), instr))
}

// writeBus writes to the memory map with 24-bit address masking. Word and
// long accesses to an odd address raise an address-error fault.
func (c *CPU) writeBus(sz Size, addr uint32, val uint32) {
	if c.halted {
		return
	}
	if sz != Byte && addr&1 != 0 {
		panic(busFault{addr: addr & 0xFFFFFF, write: true, instr: false, fc: funcCode3(c.supervisor(), false)})
	}
	addr &= 0xFFFFFF
	val &= sz.Mask()
	c.mem.Write(busWidth(sz), addr, val, c.fc(c.supervisor(), false))
}

func busWidth(sz Size) bus.Width {
	switch sz {
	case Byte:
		return bus.Byte
	case Word:
		return bus.Word
	default:
		return bus.Long
	}
}

// BusError lets a peripheral raise a 68000 bus error synchronously from
// inside one of its own indirect-page callbacks (invoked from the CPU's
// own call stack via bus.Map.Read/Write). addr is the 24-bit address
// involved; fc is the 3-bit function code to report in the group-0 status
// word (see funcCode3) — the peripheral knows which access it's rejecting
// and so is in the best position to supply it, rather than the core
// re-deriving it from state that may have already moved on.
func (c *CPU) BusError(addr uint32, write bool, instruction bool, fc uint8) {
	panic(busFault{bus: true, addr: addr & 0xFFFFFF, write: write, instr: instruction, fc: fc})
}

// fetchPC reads a 16-bit word at the current PC and advances PC by 2.
func (c *CPU) fetchPC() uint16 {
	val := c.readBusTagged(Word, c.reg.PC, false)
	c.reg.PC += 2
	return uint16(val)
}

// fetchPCTagged is fetchPC with the instruction function-code tag set,
// used only for the opcode word itself.
func (c *CPU) fetchPCTagged() uint16 {
	val := c.readBusTagged(Word, c.reg.PC, true)
	c.reg.PC += 2
	return uint16(val)
}

// fetchPCLong reads a 32-bit long at the current PC and advances PC by 4.
func (c *CPU) fetchPCLong() uint32 {
	hi := c.fetchPC()
	lo := c.fetchPC()
	return uint32(hi)<<16 | uint32(lo)
}

// pushWord pushes a 16-bit word onto the active stack (A7).
func (c *CPU) pushWord(val uint16) {
	c.reg.A[7] -= 2
	c.writeBus(Word, c.reg.A[7], uint32(val))
}

// pushLong pushes a 32-bit long onto the active stack (A7).
func (c *CPU) pushLong(val uint32) {
	c.reg.A[7] -= 4
	c.writeBus(Long, c.reg.A[7], val)
}

// popWord pops a 16-bit word from the active stack (A7).
func (c *CPU) popWord() uint16 {
	val := c.readBus(Word, c.reg.A[7])
	c.reg.A[7] += 2
	return uint16(val)
}

// popLong pops a 32-bit long from the active stack (A7).
func (c *CPU) popLong() uint32 {
	val := c.readBus(Long, c.reg.A[7])
	c.reg.A[7] += 4
	return val
}

// supervisor returns true if the CPU is in supervisor mode.
func (c *CPU) supervisor() bool {
	return c.reg.SR&flagS != 0
}

// setSR sets the status register, handling stack pointer swaps when
// transitioning between supervisor and user mode.
func (c *CPU) setSR(sr uint16) {
	oldS := c.reg.SR & flagS
	newS := sr & flagS

	if oldS != 0 && newS == 0 {
		c.reg.SSP = c.reg.A[7]
		c.reg.A[7] = c.reg.USP
	} else if oldS == 0 && newS != 0 {
		c.reg.USP = c.reg.A[7]
		c.reg.A[7] = c.reg.SSP
	}

	// Mask to valid 68000 SR bits: T__S__III___XNZVC (0xA71F)
	c.reg.SR = sr & 0xA71F

	if sr&flagS != 0 {
		c.checkInterrupt()
	}
}

// setCCR sets only the condition code register (low byte of SR). Only
// bits 0-4 (XNZVC) are valid on the 68000.
func (c *CPU) setCCR(ccr uint8) {
	c.reg.SR = (c.reg.SR & 0xFF00) | uint16(ccr&0x1F)
}

// SetState sets all programmer-visible registers directly without
// performing a hardware reset, and clears transient execution state. This
// is intended for test fixtures that must establish exact CPU state
// before executing an instruction.
func (c *CPU) SetState(regs Registers) {
	c.reg.D = regs.D
	c.reg.SR = regs.SR
	c.reg.USP = regs.USP
	c.reg.SSP = regs.SSP
	c.reg.PC = regs.PC
	c.reg.IR = regs.IR

	c.stopped = false
	c.halted = false
	c.cycles = 0
	c.deficit = 0
	c.intLevel = 0
	c.irqDelayActive = false
	c.inGroup0 = false
	c.idle = IdleDetector{}

	for i := 0; i < 7; i++ {
		c.reg.A[i] = regs.A[i]
	}
	if regs.SR&flagS != 0 {
		c.reg.A[7] = regs.SSP
	} else {
		c.reg.A[7] = regs.USP
	}
}
