package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"minitpu/pkg/asm"
)

func main() {
	inPath := flag.String("in", "", "input assembly file path")
	outPath := flag.String("out", "", "output hex file path (default: input with .hex extension)")
	manifestPath := flag.String("manifest", "", "optional JSON manifest path for load/store directives")
	matmulLen := flag.Int("matmul-len", asm.DefaultMatmulLen, "systolic transfer length for matmul lines")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tpuasm -in program.txt [-out program.hex] [-manifest host.json]")
		os.Exit(2)
	}
	if *outPath == "" {
		*outPath = strings.TrimSuffix(*inPath, ".txt") + ".hex"
	}

	a := asm.New(*matmulLen)
	count, err := a.AssembleFile(*inPath, *outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "assembly failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Assembly complete. Wrote %d instructions to %s\n", count, *outPath)

	if *manifestPath != "" {
		data, err := json.MarshalIndent(a.Manifest(), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "manifest encoding failed: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*manifestPath, append(data, '\n'), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "manifest write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote host manifest: %s\n", *manifestPath)
	}
}
