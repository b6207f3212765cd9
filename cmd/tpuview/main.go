// tpuview is a graphical inspector for compiled Mini-TPU programs: it
// renders the BRAM arena occupancy from a memory-map export next to the
// decoded instruction stream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"sort"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"minitpu/pkg/isa"
	"minitpu/pkg/mem"
	"minitpu/pkg/program"
)

const (
	screenW = 640
	screenH = 480

	barX, barY = 16, 40
	barW, barH = 608, 48

	listTop   = 120
	lineStep  = 14
	pageLines = 24
)

type namedRegion struct {
	name string
	mem.Region
}

type viewer struct {
	words   []isa.Word
	regions []namedRegion
	top     int // first visible instruction
}

func (v *viewer) Update() error {
	step := 1
	if ebiten.IsKeyPressed(ebiten.KeyShift) {
		step = pageLines
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) || inpututil.IsKeyJustPressed(ebiten.KeyPageDown) {
		if inpututil.IsKeyJustPressed(ebiten.KeyPageDown) {
			step = pageLines
		}
		v.top += step
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) || inpututil.IsKeyJustPressed(ebiten.KeyPageUp) {
		if inpututil.IsKeyJustPressed(ebiten.KeyPageUp) {
			step = pageLines
		}
		v.top -= step
	}
	if limit := len(v.words) - pageLines; v.top > limit {
		v.top = limit
	}
	if v.top < 0 {
		v.top = 0
	}
	return nil
}

var regionColors = []color.RGBA{
	{0x4C, 0xAF, 0x50, 0xFF},
	{0x21, 0x96, 0xF3, 0xFF},
	{0xFF, 0x98, 0x00, 0xFF},
	{0x9C, 0x27, 0xB0, 0xFF},
	{0xF4, 0x43, 0x36, 0xFF},
	{0x00, 0xBC, 0xD4, 0xFF},
}

func (v *viewer) Draw(screen *ebiten.Image) {
	face := basicfont.Face7x13

	text.Draw(screen, fmt.Sprintf("BRAM arena (%d words)", isa.MemorySize), face, barX, barY-8, color.White)
	ebitenutil.DrawRect(screen, barX, barY, barW, barH, color.RGBA{0x30, 0x30, 0x30, 0xFF})

	wordsPerPx := float64(isa.MemorySize) / barW
	for i, r := range v.regions {
		x := barX + float64(r.Addr)/wordsPerPx
		w := float64(r.Size) / wordsPerPx
		if w < 1 {
			w = 1
		}
		ebitenutil.DrawRect(screen, x, barY, w, barH, regionColors[i%len(regionColors)])
	}

	legendY := barY + barH + 14
	for i, r := range v.regions {
		label := fmt.Sprintf("%s @%d (%dw)", r.name, r.Addr, r.Size)
		c := regionColors[i%len(regionColors)]
		text.Draw(screen, label, face, barX+(i%3)*200, legendY+(i/3)*lineStep, c)
	}

	text.Draw(screen, fmt.Sprintf("instructions %d..%d of %d (arrows/pgup/pgdn)",
		v.top, min(v.top+pageLines, len(v.words)), len(v.words)), face, barX, listTop-6, color.White)

	for i := 0; i < pageLines; i++ {
		idx := v.top + i
		if idx >= len(v.words) {
			break
		}
		w := v.words[idx]
		line := fmt.Sprintf("%4d  %s  %s", idx, w, isa.Disassemble(w))
		ebitenutil.DebugPrintAt(screen, line, barX, listTop+8+i*lineStep)
	}
}

func (v *viewer) Layout(outsideW, outsideH int) (int, int) {
	return screenW, screenH
}

func loadMemoryMap(path string) ([]namedRegion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]mem.Region
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	regions := make([]namedRegion, 0, len(raw))
	for name, r := range raw {
		regions = append(regions, namedRegion{name: name, Region: r})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Addr < regions[j].Addr })
	return regions, nil
}

func main() {
	progPath := flag.String("program", "", "compiled program (.hex or .bin)")
	mapPath := flag.String("memmap", "", "optional memory-map JSON export")
	flag.Parse()

	if *progPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tpuview -program out.hex [-memmap map.json]")
		os.Exit(2)
	}

	words, err := program.Load(*progPath)
	if err != nil {
		log.Fatalf("failed to load program: %v", err)
	}

	v := &viewer{words: words}
	if *mapPath != "" {
		v.regions, err = loadMemoryMap(*mapPath)
		if err != nil {
			log.Fatalf("failed to load memory map: %v", err)
		}
	}

	ebiten.SetWindowSize(screenW, screenH)
	ebiten.SetWindowTitle("Mini-TPU program viewer")
	if err := ebiten.RunGame(v); err != nil {
		log.Fatal(err)
	}
}
