// Command coresim is a smoke-test harness for the core: it loads flat
// binary images into a MAIN bus.Map (and, optionally, a SUB and a Z80
// bus.Map), wires a RAM page into each map, and drives the sched.Slice
// scheduler for a fixed number of frames. It prints a one-shot register
// and cycle summary on exit. It is deliberately not a debugger: no
// breakpoints, disassembly, or interactive stepping, per spec.md's
// explicit Non-goal.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/duskline/corecpu/bus"
	"github.com/duskline/corecpu/m68k"
	"github.com/duskline/corecpu/sched"
	"github.com/duskline/corecpu/z80"
)

// romPages is how many 64KB pages of a flat image are installed as ROM,
// starting at page 0. A MAIN/SUB 68000 address space reserves pages
// 0x00-0x3F for cartridge/program ROM by convention; anything past that
// boundary in the supplied image is simply not installed.
const romPages = 0x40

// ramPage is the page number of the work-RAM page this harness wires for
// each CPU; every map gets its own separate buffer, nothing is shared
// between CPUs. Real hardware has several distinct
// RAM regions, but one page is enough to let a smoke-test image run.
const ramPage = 0xFF

func main() {
	root := &cobra.Command{
		Use:   "coresim",
		Short: "Drive the MAIN/SUB/Z80 core over a fixed number of frames and report state",
	}

	var framesFlag int
	var cyclesPerFrame uint64
	var dump bool

	runCmd := &cobra.Command{
		Use:   "run <main.bin> [sub.bin] [z80.bin]",
		Short: "Load images and run the scheduler for N frames",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(args, framesFlag, cyclesPerFrame, dump)
		},
	}
	runCmd.Flags().IntVar(&framesFlag, "frames", 60, "number of scheduler frames to run")
	runCmd.Flags().Uint64Var(&cyclesPerFrame, "cycles-per-frame", 127500, "master cycles advanced per frame (NTSC-ish default)")
	runCmd.Flags().BoolVar(&dump, "dump", false, "print a full spew dump of CPU state instead of a one-line summary")

	root.AddCommand(runCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSim(imagePaths []string, frames int, cyclesPerFrame uint64, dump bool) error {
	mainImage, err := os.ReadFile(imagePaths[0])
	if err != nil {
		return fmt.Errorf("reading MAIN image: %w", err)
	}

	mainMap := newMachineMap(mainImage)
	mainCPU := m68k.New(mainMap)

	slice := &sched.Slice{}
	slice.Add(mainCPU)

	var subCPU *m68k.CPU
	if len(imagePaths) >= 2 {
		subImage, err := os.ReadFile(imagePaths[1])
		if err != nil {
			return fmt.Errorf("reading SUB image: %w", err)
		}
		subMap := newMachineMap(subImage)
		subCPU = m68k.New(subMap)
		slice.Add(subCPU)
	}

	var z80CPU *z80.CPU
	if len(imagePaths) >= 3 {
		z80Image, err := os.ReadFile(imagePaths[2])
		if err != nil {
			return fmt.Errorf("reading Z80 image: %w", err)
		}
		z80Map := newMachineMap(z80Image)
		z80CPU = z80.New(z80Map, z80.IOHandlers{})
		slice.Add(z80CPU)
	}

	var deadline uint64
	for f := 0; f < frames; f++ {
		deadline += cyclesPerFrame
		slice.Advance(deadline)
	}

	log.Printf("ran %d frames, %d cycles/frame (deadline %d)", frames, cyclesPerFrame, deadline)

	if dump {
		fmt.Print("MAIN:\n", spew.Sdump(mainCPU.Registers()))
		if subCPU != nil {
			fmt.Print("SUB:\n", spew.Sdump(subCPU.Registers()))
		}
		if z80CPU != nil {
			fmt.Print("Z80:\n", spew.Sdump(z80CPU.Registers()))
		}
		return nil
	}

	printSummary("MAIN", mainCPU.Cycles(), mainCPU.Halted())
	if subCPU != nil {
		printSummary("SUB", subCPU.Cycles(), subCPU.Halted())
	}
	if z80CPU != nil {
		printSummary("Z80", z80CPU.Cycles(), z80CPU.Halted())
	}
	return nil
}

func printSummary(name string, cycles uint64, halted bool) {
	fmt.Printf("%-4s cycles=%-12d halted=%v\n", name, cycles, halted)
}

// newMachineMap builds a bus.Map with image installed as direct ROM pages
// starting at page 0 and a single zeroed RAM page at ramPage. Unmapped
// reads return 0 via the default reader rather than panicking, so a
// smoke-test image that touches an unwired region doesn't crash the
// harness — it just sees open-bus-style zero data.
func newMachineMap(image []byte) *bus.Map {
	m := bus.NewMap()

	for page := 0; page < romPages && page*0x10000 < len(image); page++ {
		buf := make([]byte, 0x10000)
		lo := page * 0x10000
		hi := lo + 0x10000
		if hi > len(image) {
			hi = len(image)
		}
		copy(buf, image[lo:hi])
		m.InstallDirect(uint8(page), buf)
	}

	m.InstallDirect(ramPage, make([]byte, 0x10000))
	m.SetDefaultRead(func(w bus.Width, addr uint32) uint32 { return 0 })
	return m
}
