// Package hal declares the boundary between the compiler toolchain and a
// physical Mini-TPU. The toolchain only guarantees that what it hands to
// WriteInstructions is a well-formed stream of at most 256 words ending in
// a single HALT; transport details (DMA chunking, register polling) belong
// entirely to the driver implementation.
package hal

import "minitpu/pkg/isa"

// Driver is a synchronous Mini-TPU device. Implementations live outside
// this module (FPGA overlays, RTL simulators); the toolchain programs
// against the interface only.
type Driver interface {
	// WriteBRAM stores values contiguously from addr in on-chip memory.
	WriteBRAM(addr int, values []float32) error

	// ReadBRAM fetches length words starting at addr.
	ReadBRAM(addr, length int) ([]float32, error)

	// WriteInstructions loads a complete program into instruction memory.
	WriteInstructions(words []isa.Word) error

	// Compute starts execution and blocks until the hardware signals HALT.
	Compute() error
}
