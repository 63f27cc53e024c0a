package main

import (
	"fmt"
	"os"

	"github.com/wudi/colorkit/cmm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: inspect_icc <profile.icc>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		panic(err)
	}
	p, err := cmm.ParseICCProfile(data)
	if err != nil {
		fmt.Printf("ERR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Size: %d bytes\n", len(data))
	fmt.Printf("Version: %d\n", p.Version())
	fmt.Printf("Class: %q\n", p.Class())
	fmt.Printf("Color space: %q\n", p.ColorSpace())
	fmt.Printf("PCS: %q\n", p.PCS())
	fmt.Printf("Description: %s\n", p.Description())
	wp := p.MediaWhitePoint()
	fmt.Printf("Media white point: %.4f %.4f %.4f\n", wp[0], wp[1], wp[2])

	for _, sig := range p.TagSignatures() {
		tag, _ := p.GetTag(sig)
		fmt.Printf("  %s %6d bytes", sig, len(tag))
		if lut, err := p.ReadLUTTag(sig); err == nil {
			fmt.Printf("  lut %d->%d grid %d", lut.InputChannels, lut.OutputChannels, lut.GridPoints)
		}
		fmt.Println()
	}

	e := cmm.NewEngine(cmm.EngineConfig{})
	defer e.Close()
	if _, err := e.OpenProfileFromMem(data); err != nil {
		fmt.Printf("Engine: rejected: %v\n", err)
		return
	}
	fmt.Println("Engine: accepted")
}
