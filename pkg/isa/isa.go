// Package isa encodes and decodes Mini-TPU instruction words.
//
// Every instruction is a fixed 64-bit word. The top two bits select the
// execution unit (mode); the remaining layout depends on the mode:
//
//	VPU scalar:  [63:62]=0 [61:49]=addr_a [48:36]=addr_b [35:23]=addr_out [22:10]=addr_const [9:0]=opcode
//	SYSTOLIC:    [63:62]=1 [61:49]=addr_w [48:36]=addr_x [35:23]=addr_z   [22:0]=length
//	HALT:        [63:62]=3, all other bits zero
//
// Within a VPU-mode word, bits [22:20] double as a vpu_type discriminator
// (0=scalar, 1=VLOAD, 2=VSTORE, 3=VCOMPUTE). A scalar op with
// addr_const >= 4096 sets those bits and would be misread by the hardware
// decoder as a SIMD op; the encoders only enforce addr_const <= 8191, so
// keeping addr_const below 4096 for scalar ops is the caller's contract.
package isa

import (
	"errors"
	"fmt"
)

// Execution modes, bits [63:62].
const (
	ModeVPU      = 0
	ModeSystolic = 1
	ModeVAddTest = 2 // reserved by the hardware test harness, never emitted
	ModeHalt     = 3
)

// VPU-mode sub-types, bits [22:20].
const (
	VPUTypeScalar   = 0
	VPUTypeVLoad    = 1
	VPUTypeVStore   = 2
	VPUTypeVCompute = 3
)

// Field widths and hardware limits.
const (
	AddrBits   = 13
	LenBits    = 23
	OpcodeBits = 10

	AddrMax   = (1 << AddrBits) - 1
	LenMax    = (1 << LenBits) - 1
	OpcodeMax = (1 << OpcodeBits) - 1

	VRegMax = 7

	// MemorySize is the BRAM depth in FP32 words.
	MemorySize = 8192

	// IMEMMaxSize is the instruction memory depth: the program counter is
	// 8 bits wide, so a program (HALT included) may hold at most 256 words.
	IMEMMaxSize = 256
)

// Scalar VPU opcodes, bits [9:0].
const (
	OpAdd            = 0
	OpSub            = 1
	OpRelu           = 2
	OpMul            = 3
	OpReluDerivative = 4
)

// SIMD VCOMPUTE opcodes, bits [6:4].
const (
	OpVAdd  = 0
	OpVSub  = 1
	OpVRelu = 2
	OpVMul  = 3
	OpVMax  = 4
	OpVMin  = 5
)

// ScalarOpcodes maps scalar VPU mnemonics to their 10-bit opcodes.
var ScalarOpcodes = map[string]uint64{
	"add":             OpAdd,
	"sub":             OpSub,
	"relu":            OpRelu,
	"mul":             OpMul,
	"relu_derivative": OpReluDerivative,
}

// VectorOpcodes maps SIMD VCOMPUTE mnemonics to their 3-bit opcodes.
var VectorOpcodes = map[string]uint64{
	"vadd":  OpVAdd,
	"vsub":  OpVSub,
	"vrelu": OpVRelu,
	"vmul":  OpVMul,
	"vmax":  OpVMax,
	"vmin":  OpVMin,
}

var (
	ErrAddressRange  = errors.New("address out of range")
	ErrRegisterRange = errors.New("vector register out of range")
	ErrUnknownOp     = errors.New("unknown operation")
	ErrIMEMOverflow  = errors.New("instruction memory overflow")
)

// Word is one immutable 64-bit Mini-TPU instruction.
type Word uint64

// String renders the word in the hardware hex-file format: 16 uppercase
// hex digits, no prefix.
func (w Word) String() string {
	return fmt.Sprintf("%016X", uint64(w))
}

func (w Word) Mode() int    { return int(w >> 62 & 0b11) }
func (w Word) AddrA() int   { return int(w >> 49 & AddrMax) }
func (w Word) AddrB() int   { return int(w >> 36 & AddrMax) }
func (w Word) AddrOut() int { return int(w >> 23 & AddrMax) }

// AddrConst returns the scalar-op constant field, bits [22:10].
func (w Word) AddrConst() int { return int(w >> 10 & AddrMax) }

// Opcode returns the 10-bit scalar opcode field, bits [9:0].
func (w Word) Opcode() int { return int(w & OpcodeMax) }

// Length returns the systolic transfer length, bits [22:0].
func (w Word) Length() int { return int(w & LenMax) }

// VPUType returns the SIMD discriminator, bits [22:20] of a VPU-mode word.
func (w Word) VPUType() int { return int(w >> 20 & 0b111) }

// VRegDst returns bits [19:17] (VLOAD and VCOMPUTE destination register).
func (w Word) VRegDst() int { return int(w >> 17 & 0b111) }

// VRegSrc returns bits [16:14] (VSTORE source register).
func (w Word) VRegSrc() int { return int(w >> 14 & 0b111) }

// VRegA returns bits [16:14] (VCOMPUTE source A; aliases VRegSrc).
func (w Word) VRegA() int { return int(w >> 14 & 0b111) }

// VRegB returns bits [13:11] (VCOMPUTE source B).
func (w Word) VRegB() int { return int(w >> 11 & 0b111) }

// VectorOpcode returns the 3-bit VCOMPUTE opcode, bits [6:4].
func (w Word) VectorOpcode() int { return int(w >> 4 & 0b111) }

// ScalarBroadcast reports bit [3]: source B lane 0 broadcast to all lanes.
func (w Word) ScalarBroadcast() bool { return w>>3&1 == 1 }

func checkAddr(addr int, field string) error {
	if addr < 0 || addr > AddrMax {
		return fmt.Errorf("%w: %s=%d (0..%d)", ErrAddressRange, field, addr, AddrMax)
	}
	return nil
}

func checkVReg(reg int, field string) error {
	if reg < 0 || reg > VRegMax {
		return fmt.Errorf("%w: %s=%d (0..%d)", ErrRegisterRange, field, reg, VRegMax)
	}
	return nil
}

// EncodeVPU encodes a scalar VPU operation. addrConst is an optional fourth
// address operand (used by relu-style ops for the zero constant); it must be
// kept below 4096 to avoid aliasing the vpu_type field.
func EncodeVPU(op string, addrA, addrB, addrOut, addrConst int) (Word, error) {
	opcode, ok := ScalarOpcodes[op]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if err := checkAddr(addrA, "addr_a"); err != nil {
		return 0, err
	}
	if err := checkAddr(addrB, "addr_b"); err != nil {
		return 0, err
	}
	if err := checkAddr(addrOut, "addr_out"); err != nil {
		return 0, err
	}
	if err := checkAddr(addrConst, "addr_const"); err != nil {
		return 0, err
	}

	var w uint64
	w |= ModeVPU << 62
	w |= uint64(addrA) << 49
	w |= uint64(addrB) << 36
	w |= uint64(addrOut) << 23
	w |= uint64(addrConst) << 10
	w |= opcode
	return Word(w), nil
}

// EncodeSystolic encodes a weight-stationary matmul: Z = X * W^T for two
// contiguous tiles at addrW and addrX, result written at addrZ. length is
// the tile word count (m*m for an m x m tile).
func EncodeSystolic(addrW, addrX, addrZ, length int) (Word, error) {
	if err := checkAddr(addrW, "addr_w"); err != nil {
		return 0, err
	}
	if err := checkAddr(addrX, "addr_x"); err != nil {
		return 0, err
	}
	if err := checkAddr(addrZ, "addr_z"); err != nil {
		return 0, err
	}
	if length < 0 || length > LenMax {
		return 0, fmt.Errorf("%w: length=%d (0..%d)", ErrAddressRange, length, LenMax)
	}

	var w uint64
	w |= ModeSystolic << 62
	w |= uint64(addrW) << 49
	w |= uint64(addrX) << 36
	w |= uint64(addrZ) << 23
	w |= uint64(length)
	return Word(w), nil
}

// EncodeHalt returns the HALT word. It takes no arguments and always
// produces the same value.
func EncodeHalt() Word {
	return Word(uint64(ModeHalt) << 62)
}

// EncodeVLoad encodes a transfer of 8 FP32 words from BRAM into a vector
// register.
func EncodeVLoad(vregDst, addr int) (Word, error) {
	if err := checkVReg(vregDst, "vreg_dst"); err != nil {
		return 0, err
	}
	if err := checkAddr(addr, "addr"); err != nil {
		return 0, err
	}

	var w uint64
	w |= ModeVPU << 62
	w |= uint64(addr) << 49
	w |= VPUTypeVLoad << 20
	w |= uint64(vregDst) << 17
	return Word(w), nil
}

// EncodeVStore encodes a transfer of 8 FP32 words from a vector register
// back to BRAM.
func EncodeVStore(vregSrc, addr int) (Word, error) {
	if err := checkVReg(vregSrc, "vreg_src"); err != nil {
		return 0, err
	}
	if err := checkAddr(addr, "addr"); err != nil {
		return 0, err
	}

	var w uint64
	w |= ModeVPU << 62
	w |= uint64(addr) << 49
	w |= VPUTypeVStore << 20
	w |= uint64(vregSrc) << 14
	return Word(w), nil
}

// EncodeVCompute encodes an 8-lane SIMD operation over vector registers.
// With scalarB set, lane 0 of vregB is broadcast to all lanes in place of
// the per-lane B source.
func EncodeVCompute(op string, vregDst, vregA, vregB int, scalarB bool) (Word, error) {
	opcode, ok := VectorOpcodes[op]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if err := checkVReg(vregDst, "vreg_dst"); err != nil {
		return 0, err
	}
	if err := checkVReg(vregA, "vreg_a"); err != nil {
		return 0, err
	}
	if err := checkVReg(vregB, "vreg_b"); err != nil {
		return 0, err
	}

	var w uint64
	w |= ModeVPU << 62
	w |= VPUTypeVCompute << 20
	w |= uint64(vregDst) << 17
	w |= uint64(vregA) << 14
	w |= uint64(vregB) << 11
	w |= opcode << 4
	if scalarB {
		w |= 1 << 3
	}
	return Word(w), nil
}
