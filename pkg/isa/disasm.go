package isa

import "fmt"

var scalarNames = invert(ScalarOpcodes)
var vectorNames = invert(VectorOpcodes)

func invert(m map[string]uint64) map[int]string {
	out := make(map[int]string, len(m))
	for name, code := range m {
		out[int(code)] = name
	}
	return out
}

// Disassemble renders a word as a one-line mnemonic form for inspection.
// Unrecognized opcodes are shown numerically rather than rejected, since
// the input may be an arbitrary word read back from a file.
func Disassemble(w Word) string {
	switch w.Mode() {
	case ModeHalt:
		return "halt"
	case ModeSystolic:
		return fmt.Sprintf("matmul w=%d x=%d z=%d len=%d", w.AddrA(), w.AddrB(), w.AddrOut(), w.Length())
	case ModeVAddTest:
		return fmt.Sprintf("vadd_test (raw %s)", w)
	}

	switch w.VPUType() {
	case VPUTypeVLoad:
		return fmt.Sprintf("vload v%d, %d", w.VRegDst(), w.AddrA())
	case VPUTypeVStore:
		return fmt.Sprintf("vstore v%d, %d", w.VRegSrc(), w.AddrA())
	case VPUTypeVCompute:
		name, ok := vectorNames[w.VectorOpcode()]
		if !ok {
			name = fmt.Sprintf("vop%d", w.VectorOpcode())
		}
		s := fmt.Sprintf("%s v%d, v%d, v%d", name, w.VRegDst(), w.VRegA(), w.VRegB())
		if w.ScalarBroadcast() {
			s += " (broadcast)"
		}
		return s
	}

	name, ok := scalarNames[w.Opcode()]
	if !ok {
		name = fmt.Sprintf("op%d", w.Opcode())
	}
	if w.AddrConst() != 0 {
		return fmt.Sprintf("%s %d %d %d const=%d", name, w.AddrA(), w.AddrB(), w.AddrOut(), w.AddrConst())
	}
	return fmt.Sprintf("%s %d %d %d", name, w.AddrA(), w.AddrB(), w.AddrOut())
}
