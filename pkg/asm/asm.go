// Package asm translates the line-oriented Mini-TPU textual ISA into
// encoded instruction words.
//
// One instruction per line: `matmul a b c`, `halt`, or a scalar VPU op
// (add, sub, relu, mul, relu_derivative) followed by exactly three integer
// operands (decimal or 0x hex). Mnemonics are case-insensitive; blank
// lines and # comments are skipped. Two pseudo-ops produce no instruction
// word: `load addr, length, [floats...]` records an initial-memory
// directive and `store addr, length, label` records an expected-readback
// directive, both for the host harness. The text path exposes only the
// scalar ISA and matmul, never the SIMD sub-ISA.
package asm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"minitpu/pkg/isa"
)

// DefaultMatmulLen is the systolic transfer length used for `matmul`
// lines: one native 4x4 tile.
const DefaultMatmulLen = 16

// Load is an initial-memory directive: values to place in BRAM before
// execution.
type Load struct {
	Addr   int       `json:"addr"`
	Length int       `json:"length"`
	Values []float32 `json:"values"`
}

// Store is an expected-readback directive: a labelled region the host
// reads after execution.
type Store struct {
	Addr   int    `json:"addr"`
	Length int    `json:"length"`
	Label  string `json:"label"`
}

// Manifest is the host-harness sidecar written next to the hex stream:
// what to preload into BRAM and which regions to read back after compute.
type Manifest struct {
	Loads  []Load  `json:"loads"`
	Stores []Store `json:"stores"`
}

// Assembler translates source text and collects load/store directives.
type Assembler struct {
	matmulLen int
	loads     []Load
	stores    []Store
}

// New builds an assembler. matmulLen <= 0 selects DefaultMatmulLen.
func New(matmulLen int) *Assembler {
	if matmulLen <= 0 {
		matmulLen = DefaultMatmulLen
	}
	return &Assembler{matmulLen: matmulLen}
}

// Loads returns the load directives collected so far, in source order.
func (a *Assembler) Loads() []Load {
	return append([]Load(nil), a.loads...)
}

// Stores returns the store directives collected so far, in source order.
func (a *Assembler) Stores() []Store {
	return append([]Store(nil), a.stores...)
}

// Manifest packages the collected directives for serialization.
func (a *Assembler) Manifest() Manifest {
	return Manifest{Loads: a.Loads(), Stores: a.Stores()}
}

// Reset clears collected directives for a fresh run.
func (a *Assembler) Reset() {
	a.loads = nil
	a.stores = nil
}

// Assemble translates a complete source text, appending the terminating
// HALT. The finished stream (HALT included) must fit the 256-word
// instruction memory.
func (a *Assembler) Assemble(src string) ([]isa.Word, error) {
	a.Reset()

	var words []isa.Word
	for i, line := range strings.Split(src, "\n") {
		word, emitted, err := a.assembleLine(line, i+1)
		if err != nil {
			return nil, err
		}
		if emitted {
			words = append(words, word)
		}
	}
	words = append(words, isa.EncodeHalt())

	if len(words) > isa.IMEMMaxSize {
		return nil, fmt.Errorf("%w: program has %d instructions, exceeds IMEM limit of %d; consider tiled operations to reduce instruction count",
			isa.ErrIMEMOverflow, len(words), isa.IMEMMaxSize)
	}
	return words, nil
}

// AssembleFile reads source from inPath and writes the hex stream to
// outPath, returning the instruction count.
func (a *Assembler) AssembleFile(inPath, outPath string) (int, error) {
	src, err := os.ReadFile(inPath)
	if err != nil {
		return 0, err
	}
	words, err := a.Assemble(string(src))
	if err != nil {
		return 0, err
	}
	if err := writeHex(outPath, words); err != nil {
		return 0, err
	}
	return len(words), nil
}

func writeHex(path string, words []isa.Word) error {
	var b strings.Builder
	for _, w := range words {
		fmt.Fprintf(&b, "%s\n", w)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// assembleLine parses one line. emitted is false for blanks, comments and
// the load/store pseudo-ops.
func (a *Assembler) assembleLine(raw string, lineNo int) (word isa.Word, emitted bool, err error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, false, nil
	}

	op, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		op, rest = line[:i], line[i+1:]
	}
	op = strings.ToLower(op)

	switch op {
	case "load":
		if err := a.parseLoad(rest, lineNo); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	case "store":
		if err := a.parseStore(rest, lineNo); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	case "halt":
		return isa.EncodeHalt(), true, nil
	}

	operands, err := parseIntOperands(rest, lineNo)
	if err != nil {
		return 0, false, err
	}

	if op == "matmul" {
		if len(operands) != 3 {
			return 0, false, fmt.Errorf("matmul expects 3 operands on line %d", lineNo)
		}
		w, err := isa.EncodeSystolic(operands[0], operands[1], operands[2], a.matmulLen)
		if err != nil {
			return 0, false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		return w, true, nil
	}

	if _, ok := isa.ScalarOpcodes[op]; ok {
		if len(operands) != 3 {
			return 0, false, fmt.Errorf("%s expects 3 operands on line %d", op, lineNo)
		}
		w, err := isa.EncodeVPU(op, operands[0], operands[1], operands[2], 0)
		if err != nil {
			return 0, false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		return w, true, nil
	}

	return 0, false, fmt.Errorf("%w: %q on line %d", isa.ErrUnknownOp, op, lineNo)
}

// parseLoad handles `load <addr>, <length>, [v0, v1, ...]`.
func (a *Assembler) parseLoad(rest string, lineNo int) error {
	addrStr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return fmt.Errorf("load expects addr, length, [values] on line %d", lineNo)
	}
	lengthStr, valuesStr, ok := strings.Cut(rest, ",")
	if !ok {
		return fmt.Errorf("load expects addr, length, [values] on line %d", lineNo)
	}

	addr, err := parseInt(addrStr)
	if err != nil {
		return fmt.Errorf("invalid load address on line %d: %v", lineNo, err)
	}
	length, err := parseInt(lengthStr)
	if err != nil {
		return fmt.Errorf("invalid load length on line %d: %v", lineNo, err)
	}
	values, err := parseFloatList(valuesStr)
	if err != nil {
		return fmt.Errorf("invalid load values on line %d: %v", lineNo, err)
	}

	a.loads = append(a.loads, Load{Addr: addr, Length: length, Values: values})
	return nil
}

// parseStore handles `store <addr>, <length>, <label>`.
func (a *Assembler) parseStore(rest string, lineNo int) error {
	addrStr, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return fmt.Errorf("store expects addr, length, label on line %d", lineNo)
	}
	lengthStr, labelStr, ok := strings.Cut(rest, ",")
	if !ok {
		return fmt.Errorf("store expects addr, length, label on line %d", lineNo)
	}

	addr, err := parseInt(addrStr)
	if err != nil {
		return fmt.Errorf("invalid store address on line %d: %v", lineNo, err)
	}
	length, err := parseInt(lengthStr)
	if err != nil {
		return fmt.Errorf("invalid store length on line %d: %v", lineNo, err)
	}
	label := strings.TrimSpace(labelStr)
	if label == "" {
		return fmt.Errorf("store expects a non-empty label on line %d", lineNo)
	}

	a.stores = append(a.stores, Store{Addr: addr, Length: length, Label: label})
	return nil
}

func parseIntOperands(rest string, lineNo int) ([]int, error) {
	fields := strings.Fields(rest)
	operands := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := parseInt(f)
		if err != nil {
			return nil, fmt.Errorf("invalid operand %q on line %d", f, lineNo)
		}
		operands = append(operands, v)
	}
	return operands, nil
}

// parseInt accepts decimal or 0x-prefixed hex, tolerating a trailing comma.
func parseInt(tok string) (int, error) {
	tok = strings.TrimSuffix(strings.TrimSpace(tok), ",")
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		v, err := strconv.ParseInt(tok[2:], 16, 64)
		return int(v), err
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	return int(v), err
}

// parseFloatList parses a bracketed float list: [1.0, 2.5, -3].
func parseFloatList(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("expected bracketed list, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, nil
	}

	parts := strings.Split(inner, ",")
	values := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		values = append(values, float32(v))
	}
	return values, nil
}
