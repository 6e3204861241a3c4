package m68k

import (
	"encoding/binary"
	"errors"
)

// cpuSerializeVersion is incremented whenever the binary layout changes.
const cpuSerializeVersion = 2

// cpuSerializeSize is the number of bytes produced by CPU.Serialize.
// Update this constant whenever the binary layout changes.
const cpuSerializeSize = 104

// SerializeSize returns the number of bytes needed for Serialize.
func (c *CPU) SerializeSize() int { return cpuSerializeSize }

// Serialize writes the full CPU state into buf, which must be at least
// SerializeSize() bytes. Returns an error if the buffer is too small.
// The memory map, callback hooks, and idle-detector heuristic state are
// not included — a restored CPU relies on its owner to re-wire those, and
// the idle detector re-arms itself within one instruction of resuming.
func (c *CPU) Serialize(buf []byte) error {
	if len(buf) < cpuSerializeSize {
		return errors.New("m68k: serialize buffer too small")
	}

	buf[0] = cpuSerializeVersion
	be := binary.BigEndian
	off := 1

	for i := 0; i < 8; i++ {
		be.PutUint32(buf[off:], c.reg.D[i])
		off += 4
	}
	for i := 0; i < 8; i++ {
		be.PutUint32(buf[off:], c.reg.A[i])
		off += 4
	}

	be.PutUint32(buf[off:], c.reg.PC)
	off += 4
	be.PutUint16(buf[off:], c.reg.SR)
	off += 2
	be.PutUint32(buf[off:], c.reg.USP)
	off += 4
	be.PutUint32(buf[off:], c.reg.SSP)
	off += 4
	be.PutUint16(buf[off:], c.reg.IR)
	off += 2

	be.PutUint64(buf[off:], c.cycles)
	off += 8
	be.PutUint16(buf[off:], c.ir)
	off += 2

	buf[off] = boolByte(c.stopped)
	off++
	buf[off] = boolByte(c.halted)
	off++

	be.PutUint32(buf[off:], c.prevPC)
	off += 4

	buf[off] = c.intLevel
	off++
	buf[off] = boolByte(c.irqDelayActive)
	off++
	buf[off] = boolByte(c.inGroup0)
	off++

	be.PutUint32(buf[off:], uint32(int32(c.deficit)))
	off += 4

	_ = off
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Deserialize restores CPU state from buf, which must be at least
// SerializeSize() bytes and produced by a matching serialize version.
// Bus/hook wiring is left untouched; callers must SetIRQAckFunc/
// SetResetFunc/SetTASFunc again themselves since those are host-specific
// closures, not serializable state.
func (c *CPU) Deserialize(buf []byte) error {
	if len(buf) < cpuSerializeSize {
		return errors.New("m68k: deserialize buffer too small")
	}
	if buf[0] != cpuSerializeVersion {
		return errors.New("m68k: unsupported serialize version")
	}

	be := binary.BigEndian
	off := 1

	for i := 0; i < 8; i++ {
		c.reg.D[i] = be.Uint32(buf[off:])
		off += 4
	}
	for i := 0; i < 8; i++ {
		c.reg.A[i] = be.Uint32(buf[off:])
		off += 4
	}

	c.reg.PC = be.Uint32(buf[off:])
	off += 4
	c.reg.SR = be.Uint16(buf[off:])
	off += 2
	c.reg.USP = be.Uint32(buf[off:])
	off += 4
	c.reg.SSP = be.Uint32(buf[off:])
	off += 4
	c.reg.IR = be.Uint16(buf[off:])
	off += 2

	c.cycles = be.Uint64(buf[off:])
	off += 8
	c.ir = be.Uint16(buf[off:])
	off += 2

	c.stopped = buf[off] != 0
	off++
	c.halted = buf[off] != 0
	off++

	c.prevPC = be.Uint32(buf[off:])
	off += 4

	c.intLevel = buf[off]
	off++
	c.irqDelayActive = buf[off] != 0
	off++
	c.inGroup0 = buf[off] != 0
	off++

	c.deficit = int(int32(be.Uint32(buf[off:])))
	off += 4

	c.idle = IdleDetector{}
	_ = off
	return nil
}
