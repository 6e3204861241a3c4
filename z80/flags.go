package z80

// Flag bit positions within F, matching Zilog's documented layout plus
// the two undocumented bits (3 and 5) that real silicon mirrors from the
// result byte and that some game software probes for anti-emulation
// checks.
const (
	FlagC uint8 = 1 << 0
	FlagN uint8 = 1 << 1
	FlagP uint8 = 1 << 2 // parity/overflow, shared bit
	FlagV        = FlagP
	Flag3 uint8 = 1 << 3
	FlagH uint8 = 1 << 4
	Flag5 uint8 = 1 << 5
	FlagZ uint8 = 1 << 6
	FlagS uint8 = 1 << 7
)

// sz53Table, sz53pTable, and parityTable are precomputed per-byte flag
// tables: sign/zero/3/5 bits for a byte result, the same plus parity, and
// parity alone. Half-carry and overflow have no tables; the ALU helpers
// below compute them directly from the operands and the result. The
// tables follow the standard construction used across Z80 emulator cores (ported in spirit
// from the table layout in oisee-z80-optimizer's pkg/cpu/flags.go, which
// itself credits remogatto/z80).
var (
	sz53Table   [256]uint8
	sz53pTable  [256]uint8
	parityTable [256]bool
)

func init() {
	for i := 0; i < 256; i++ {
		v := uint8(i)
		var s uint8
		if v&0x80 != 0 {
			s |= FlagS
		}
		if v == 0 {
			s |= FlagZ
		}
		s |= v & (Flag3 | Flag5)
		sz53Table[i] = s

		parity := true
		for b := uint8(0); b < 8; b++ {
			if v&(1<<b) != 0 {
				parity = !parity
			}
		}
		parityTable[i] = parity

		p := s
		if parity {
			p |= FlagP
		}
		sz53pTable[i] = p
	}
}

// addByte computes a+b(+carry) and the resulting flags, per the standard
// Z80 8-bit add/adc flag rules (half-carry from bit 3, overflow from
// signed over/underflow, carry from bit 8).
func addByte(a, b uint8, carryIn bool) (result, flags uint8) {
	var c uint16
	if carryIn {
		c = 1
	}
	full := uint16(a) + uint16(b) + c
	result = uint8(full)

	flags = sz53Table[result]
	if (a^b^result)&0x10 != 0 {
		flags |= FlagH
	}
	if ((a ^ b ^ 0x80) & (b ^ result) & 0x80) != 0 {
		flags |= FlagV
	}
	if full > 0xFF {
		flags |= FlagC
	}
	return result, flags
}

// subByte computes a-b(-carry) and the resulting flags.
func subByte(a, b uint8, carryIn bool) (result, flags uint8) {
	var c uint16
	if carryIn {
		c = 1
	}
	full := uint16(a) - uint16(b) - c
	result = uint8(full)

	flags = sz53Table[result] | FlagN
	if (a^b^result)&0x10 != 0 {
		flags |= FlagH
	}
	if ((a ^ b) & (a ^ result) & 0x80) != 0 {
		flags |= FlagV
	}
	if full > 0xFF {
		flags |= FlagC
	}
	return result, flags
}

// andByte, orByte, and xorByte apply the fixed flag rules for logical
// operations: H is set (AND) or cleared (OR/XOR) per Zilog's documented
// behavior, C and N are always cleared, parity/sign/zero come from the
// result table.
func andByte(a, b uint8) (result, flags uint8) {
	result = a & b
	flags = sz53pTable[result] | FlagH
	return result, flags
}

func orByte(a, b uint8) (result, flags uint8) {
	result = a | b
	flags = sz53pTable[result]
	return result, flags
}

func xorByte(a, b uint8) (result, flags uint8) {
	result = a ^ b
	flags = sz53pTable[result]
	return result, flags
}

// cpByte computes the flags for CP (a compare that discards its result)
// but reports Flag3/Flag5 from the operand rather than the result, per
// documented Z80 quirk.
func cpByte(a, b uint8) uint8 {
	_, flags := subByte(a, b, false)
	flags = (flags &^ (Flag3 | Flag5)) | (b & (Flag3 | Flag5))
	return flags
}
