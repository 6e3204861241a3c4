package m68k

import "testing"

func TestAddressError(t *testing.T) {
	t.Run("word read from odd address takes an exception", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.W (A0), D0 — opcode 0x3010
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x3010)

		var regs Registers
		regs.A[0] = 0x2001 // A0 = odd address
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		// Vector 3 (address error) is uninitialized in this fixture, and
		// so is the uninitialized-interrupt vector it falls back to, so
		// the fault is unserviceable: the CPU halts. See the sibling test
		// below for the serviced case.
		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted after word read from odd address with no handler installed")
		}
	})

	t.Run("word read from odd address with a handler vectors instead of halting", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// Address-error vector (3) handler at 0x3000.
		flat[vecAddressError*4+0] = 0x00
		flat[vecAddressError*4+1] = 0x00
		flat[vecAddressError*4+2] = 0x30
		flat[vecAddressError*4+3] = 0x00

		pc := uint32(0x1000)
		writeWord(flat, pc, 0x3010) // MOVE.W (A0), D0

		var regs Registers
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x20000
		cpu.SetState(regs)
		cpu.Step()

		if cpu.Halted() {
			t.Fatalf("expected the address error to vector to its handler, not halt")
		}
		if got := cpu.Registers().PC; got != 0x3000 {
			t.Errorf("PC = 0x%06X, want 0x3000 (address-error handler)", got)
		}

		// Extended group-0 frame: SP now points at [status word][fault
		// addr long][IR word][PC long][SR word], 14 bytes, below the
		// original SSP.
		sp := cpu.Registers().A[7]
		if want := uint32(0x20000 - 14); sp != want {
			t.Errorf("A7 after group-0 frame push = 0x%06X, want 0x%06X", sp, want)
		}
		faultAddr := uint32(flat[sp+2])<<24 | uint32(flat[sp+3])<<16 | uint32(flat[sp+4])<<8 | uint32(flat[sp+5])
		if faultAddr != 0x2001 {
			t.Errorf("pushed fault address = 0x%06X, want 0x002001", faultAddr)
		}
	})

	t.Run("long read from odd address takes an exception", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.L (A0), D0 — opcode 0x2010
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x2010)

		var regs Registers
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted after long read from odd address with no handler installed")
		}
	})

	t.Run("word write to odd address takes an exception", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.W D0, (A0) — opcode 0x3080
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x3080)

		var regs Registers
		regs.D[0] = 0x1234
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted after word write to odd address with no handler installed")
		}
	})

	t.Run("long write to odd address takes an exception", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.L D0, (A0) — opcode 0x2080
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x2080)

		var regs Registers
		regs.D[0] = 0x12345678
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted after long write to odd address with no handler installed")
		}
	})

	t.Run("byte read from odd address works", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.B (A0), D0 — opcode 0x1010
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x1010)

		var regs Registers
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		flat[0x2001] = 0xAB
		cpu.SetState(regs)
		cpu.Step()

		if cpu.Halted() {
			t.Errorf("CPU should not halt on byte read from odd address")
		}
		reg := cpu.Registers()
		if reg.D[0]&0xFF != 0xAB {
			t.Errorf("D0 low byte = 0x%02X, want 0xAB", reg.D[0]&0xFF)
		}
	})

	t.Run("byte write to odd address works", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// MOVE.B D0, (A0) — opcode 0x1080
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x1080)

		var regs Registers
		regs.D[0] = 0xCD
		regs.A[0] = 0x2001
		regs.PC = pc
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		if cpu.Halted() {
			t.Errorf("CPU should not halt on byte write to odd address")
		}
		if flat[0x2001] != 0xCD {
			t.Errorf("RAM[0x2001] = 0x%02X, want 0xCD", flat[0x2001])
		}
	})

	t.Run("odd PC takes an exception", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// Put a NOP at address 0x1000 in case fetch reaches there
		writeWord(flat, 0x1000, 0x4E71)

		var regs Registers
		regs.PC = 0x1001
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cycles := cpu.Step()

		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted with odd PC and no handler installed")
		}
		if cycles == 0 {
			t.Errorf("Step() returned 0 cycles even though the group-0 frame push was attempted")
		}
	})

	t.Run("double group-0 fault halts", func(t *testing.T) {
		m, flat := newTestMap()
		cpu := New(m)

		// Install a valid address-error handler so the first fault would
		// normally vector cleanly...
		flat[vecAddressError*4+2] = 0x30
		flat[vecAddressError*4+3] = 0x00

		// Use an unimplemented opcode to trigger illegal instruction
		// exception (opcode 0x4AFC is the explicit ILLEGAL instruction).
		pc := uint32(0x1000)
		writeWord(flat, pc, 0x4AFC)

		var regs Registers
		regs.PC = pc
		regs.SR = 0x2700
		// ...but an odd SSP means the group-0 frame push itself faults,
		// which is the unrecoverable double-fault case.
		regs.SSP = 0x10001
		cpu.SetState(regs)
		cpu.Step()

		if !cpu.Halted() {
			t.Errorf("expected CPU to be halted when the exception frame push itself faults")
		}
	})
}

func TestStepCycles(t *testing.T) {
	t.Run("budget larger than cost", func(t *testing.T) {
		cpu, _ := newNOPCPU(1)

		cycles := cpu.StepCycles(100)
		if cycles != 4 {
			t.Errorf("StepCycles(100) = %d, want 4", cycles)
		}
		if cpu.Deficit() != 0 {
			t.Errorf("Deficit() = %d, want 0", cpu.Deficit())
		}
	})

	t.Run("budget equal to cost", func(t *testing.T) {
		cpu, _ := newNOPCPU(1)

		cycles := cpu.StepCycles(4)
		if cycles != 4 {
			t.Errorf("StepCycles(4) = %d, want 4", cycles)
		}
		if cpu.Deficit() != 0 {
			t.Errorf("Deficit() = %d, want 0", cpu.Deficit())
		}
	})

	t.Run("budget smaller than cost creates deficit", func(t *testing.T) {
		cpu, _ := newNOPCPU(1)

		cycles := cpu.StepCycles(1)
		if cycles != 1 {
			t.Errorf("StepCycles(1) = %d, want 1", cycles)
		}
		if cpu.Deficit() != 3 {
			t.Errorf("Deficit() = %d, want 3", cpu.Deficit())
		}
	})

	t.Run("deficit paid off in one call", func(t *testing.T) {
		cpu, _ := newNOPCPU(2)

		cpu.StepCycles(1)

		cycles := cpu.StepCycles(100)
		if cycles != 3 {
			t.Errorf("StepCycles(100) = %d, want 3", cycles)
		}
		if cpu.Deficit() != 0 {
			t.Errorf("Deficit() = %d, want 0", cpu.Deficit())
		}
	})

	t.Run("deficit paid off across multiple calls", func(t *testing.T) {
		cpu, _ := newNOPCPU(2)

		cpu.StepCycles(1)

		cycles := cpu.StepCycles(1)
		if cycles != 1 {
			t.Errorf("StepCycles(1) = %d, want 1", cycles)
		}
		if cpu.Deficit() != 2 {
			t.Errorf("Deficit() = %d, want 2", cpu.Deficit())
		}

		cycles = cpu.StepCycles(1)
		if cycles != 1 {
			t.Errorf("StepCycles(1) = %d, want 1", cycles)
		}
		if cpu.Deficit() != 1 {
			t.Errorf("Deficit() = %d, want 1", cpu.Deficit())
		}

		cycles = cpu.StepCycles(1)
		if cycles != 1 {
			t.Errorf("StepCycles(1) = %d, want 1", cycles)
		}
		if cpu.Deficit() != 0 {
			t.Errorf("Deficit() = %d, want 0", cpu.Deficit())
		}
	})

	t.Run("multiple instructions within budget", func(t *testing.T) {
		cpu, _ := newNOPCPU(10)

		budget := 12
		count := 0
		for budget > 0 {
			cycles := cpu.StepCycles(budget)
			budget -= cycles
			count++
		}
		if count != 3 {
			t.Errorf("executed %d steps, want 3", count)
		}
		if budget != 0 {
			t.Errorf("remaining budget = %d, want 0", budget)
		}
	})

	t.Run("scanline boundary simulation", func(t *testing.T) {
		cpu, _ := newNOPCPU(20)

		budget := 10
		total := 0
		for budget > 0 {
			cycles := cpu.StepCycles(budget)
			budget -= cycles
			total += cycles
		}
		if total != 10 {
			t.Errorf("scanline 1 total = %d, want 10", total)
		}
		deficit := cpu.Deficit()
		if deficit != 2 {
			t.Errorf("deficit after scanline 1 = %d, want 2", deficit)
		}

		budget = 10
		total = 0
		first := cpu.StepCycles(budget)
		budget -= first
		total += first
		if first != 2 {
			t.Errorf("first call of scanline 2 = %d, want 2 (deficit payoff)", first)
		}

		for budget > 0 {
			cycles := cpu.StepCycles(budget)
			budget -= cycles
			total += cycles
		}
		if total != 10 {
			t.Errorf("scanline 2 total = %d, want 10", total)
		}
	})

	t.Run("halted CPU returns zero", func(t *testing.T) {
		cpu, _ := newNOPCPU(1)

		var regs Registers
		regs.PC = 0x1001
		regs.SR = 0x2700
		regs.SSP = 0x10000
		cpu.SetState(regs)
		cpu.Step()

		cycles := cpu.StepCycles(100)
		if cycles != 0 {
			t.Errorf("StepCycles(100) on halted CPU = %d, want 0", cycles)
		}
	})

	t.Run("reset clears deficit", func(t *testing.T) {
		cpu, flat := newNOPCPU(1)

		cpu.StepCycles(1)
		if cpu.Deficit() == 0 {
			t.Fatal("expected non-zero deficit before reset")
		}

		writeWord(flat, 0, 0x0001)
		writeWord(flat, 2, 0x0000) // SSP = 0x00010000
		writeWord(flat, 4, 0x0000)
		writeWord(flat, 6, 0x1000) // PC = 0x1000
		fillNOPs(flat, 0x1000, 10)

		cpu.Reset()
		if cpu.Deficit() != 0 {
			t.Errorf("Deficit() after Reset = %d, want 0", cpu.Deficit())
		}
	})
}
