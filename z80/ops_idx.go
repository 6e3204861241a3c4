package z80

// dispatchIndexed executes the instruction following a DD (IX) or FD (IY)
// prefix byte. Most of the base table's HL-using forms are valid with IX
// or IY substituted for HL, and (HL) becomes (IX+d)/(IY+d) with a signed
// displacement byte fetched immediately after the opcode. Only the
// commonly-generated subset of the full DD/FD table is special-cased
// here (8/16-bit loads through the index register, INC/DEC (I?+d),
// arithmetic against (I?+d), EX (SP),I?, JP (I?), LD SP,I?, PUSH/POP I?);
// anything else runs through the base dispatch unchanged, which covers the
// forms the prefix doesn't actually affect without duplicating the entire
// table. That fallback does not substitute the index register: the
// undocumented IXH/IXL/IYH/IYL forms operate on H and L instead.
func (c *CPU) dispatchIndexed(idx *uint16) {
	op := c.fetch()

	switch op {
	case 0xE1: // POP IX/IY
		*idx = c.pop16()
		c.charge(14)
		return
	case 0xE5: // PUSH IX/IY
		c.push16(*idx)
		c.charge(15)
		return
	case 0x21: // LD IX/IY,nn
		*idx = c.fetch16()
		c.charge(14)
		return
	case 0x22: // LD (nn),IX/IY
		addr := c.fetch16()
		c.write16(addr, *idx)
		c.charge(20)
		return
	case 0x2A: // LD IX/IY,(nn)
		addr := c.fetch16()
		*idx = c.read16(addr)
		c.charge(20)
		return
	case 0xF9: // LD SP,IX/IY
		c.reg.SP = *idx
		c.charge(10)
		return
	case 0xE9: // JP (IX/IY)
		c.reg.PC = *idx
		c.charge(8)
		return
	case 0xE3: // EX (SP),IX/IY
		sp0 := c.read16(c.reg.SP)
		c.write16(c.reg.SP, *idx)
		*idx = sp0
		c.charge(23)
		return
	case 0x23: // INC IX/IY
		*idx++
		c.charge(10)
		return
	case 0x2B: // DEC IX/IY
		*idx--
		c.charge(10)
		return
	case 0x09, 0x19, 0x29, 0x39: // ADD IX/IY,rr (rr may alias idx itself for the 0x29 form)
		field := (op >> 4) & 3
		var rr uint16
		if field == 2 {
			rr = *idx
		} else {
			rr = c.readReg16(field, true)
		}
		result, f := add16(*idx, rr, c.reg.F)
		*idx = result
		c.reg.F = f
		c.charge(15)
		return
	case 0xCB:
		c.dispatchIndexedCB(idx)
		return
	}

	if isIndexedMemForm(op) {
		c.dispatchIndexedMem(idx, op)
		return
	}

	// Anything else: the prefix is architecturally a no-op for this
	// opcode (e.g. a plain ALU-immediate or register-only form); execute
	// it directly. Real hardware takes 4 extra T-states fetching the
	// redundant prefix byte; the base dispatch already doesn't know
	// about that cost, so it's added here.
	c.dispatch(op)
	c.charge(4)
}

// isIndexedMemForm reports whether op, following a DD/FD prefix,
// addresses memory through (HL) in the base table and must therefore be
// redirected through (I?+d) instead.
func isIndexedMemForm(op uint8) bool {
	x := op >> 6
	y := (op >> 3) & 7
	z := op & 7
	if x == 1 && (y == 6 || z == 6) && !(y == 6 && z == 6) {
		return true
	}
	if x == 0 && z == 6 && y == 6 {
		return true
	}
	if x == 0 && (z == 4 || z == 5) && y == 6 {
		return true
	}
	if x == 2 && z == 6 {
		return true
	}
	return false
}

// dispatchIndexedMem executes a base-table opcode whose (HL) operand is
// redirected to (I?+d), where d is the signed displacement byte
// immediately following the opcode (fetched before any other operand, as
// on real hardware).
func (c *CPU) dispatchIndexedMem(idx *uint16, op uint8) {
	d := int8(c.fetchNoR())
	addr := uint16(int32(*idx) + int32(d))

	x := op >> 6
	y := (op >> 3) & 7
	z := op & 7

	switch {
	case x == 1: // LD r,(I?+d) or LD (I?+d),r
		if z == 6 { // LD y,(I?+d) — y is the destination register, source is memory
			c.writeReg8(y, c.read8(addr))
		} else { // LD (I?+d),z — z is the source register, destination is memory
			c.write8(addr, c.readReg8(z))
		}
		c.charge(19)
	case x == 0 && z == 6: // LD (I?+d),n
		n := c.fetchNoR()
		c.write8(addr, n)
		c.charge(19)
	case x == 0 && z == 4: // INC (I?+d)
		v, f := incByte(c.read8(addr), c.reg.F)
		c.write8(addr, v)
		c.reg.F = f
		c.charge(23)
	case x == 0 && z == 5: // DEC (I?+d)
		v, f := decByte(c.read8(addr), c.reg.F)
		c.write8(addr, v)
		c.reg.F = f
		c.charge(23)
	case x == 2: // ALU A,(I?+d)
		c.aluOp(y, c.read8(addr))
		c.charge(19)
	}
}

// dispatchIndexedCB executes a DDCB/FDCB-prefixed opcode: displacement
// byte, then the CB-style sub-opcode, always operating on (I?+d) — the
// register field in these opcodes (when not 6) additionally copies the
// result into an 8-bit register, an undocumented but widely relied-upon
// side effect of how the real decoder was wired.
func (c *CPU) dispatchIndexedCB(idx *uint16) {
	d := int8(c.fetchNoR())
	op := c.fetchNoR()
	addr := uint16(int32(*idx) + int32(d))

	x := op >> 6
	y := (op >> 3) & 7
	z := op & 7

	v := c.read8(addr)

	switch x {
	case 0:
		var f uint8
		v, f = rotateShift(y, v, c.reg.F)
		c.write8(addr, v)
		c.reg.F = f
		if z != 6 {
			c.writeReg8(z, v)
		}
	case 1:
		c.reg.F = bitTest(y, v, c.reg.F, true)
	case 2:
		v = v &^ (1 << y)
		c.write8(addr, v)
		if z != 6 {
			c.writeReg8(z, v)
		}
	case 3:
		v = v | (1 << y)
		c.write8(addr, v)
		if z != 6 {
			c.writeReg8(z, v)
		}
	}

	c.charge(23)
}
