package program

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"minitpu/pkg/isa"
)

// Serialization formats for Save. An empty format auto-detects from the
// file extension: .bin is packed binary, anything else is hex text.
const (
	FormatHex = "hex"
	FormatBin = "bin"
)

// Save compiles the program and writes it to path. Hex output is one
// 16-digit uppercase word per line; binary output is packed little-endian
// uint64. Returns the instruction count, HALT included.
func (p *Program) Save(path, format string) (int, error) {
	words, err := p.Compile()
	if err != nil {
		return 0, err
	}
	if format == "" {
		format = detectFormat(path)
	}

	switch format {
	case FormatHex:
		err = WriteHexFile(path, words)
	case FormatBin:
		err = writeBinFile(path, words)
	default:
		return 0, fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(words), nil
}

// Load reads an instruction stream previously written by Save. Hex input
// skips blank lines and # comments.
func Load(path string) ([]isa.Word, error) {
	if detectFormat(path) == FormatBin {
		return readBinFile(path)
	}
	return ReadHexFile(path)
}

func detectFormat(path string) string {
	if filepath.Ext(path) == ".bin" {
		return FormatBin
	}
	return FormatHex
}

// WriteHexFile writes words in the hardware hex-file format.
func WriteHexFile(path string, words []isa.Word) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, word := range words {
		fmt.Fprintf(w, "%s\n", word)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// ReadHexFile parses a hex instruction file back into words.
func ReadHexFile(path string) ([]isa.Word, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []isa.Word
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseUint(line, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid hex word %q", path, lineNo, line)
		}
		words = append(words, isa.Word(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

func writeBinFile(path string, words []isa.Word) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 8*len(words))
	for i, word := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(word))
	}
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Close()
}

func readBinFile(path string) ([]isa.Word, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%s: length %d is not a multiple of 8", path, len(data))
	}
	words := make([]isa.Word, len(data)/8)
	for i := range words {
		words[i] = isa.Word(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return words, nil
}
