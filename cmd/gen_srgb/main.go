package main

import (
	"fmt"
	"os"

	"github.com/wudi/colorkit/cmm"
)

func main() {
	out := "sRGB.icc"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	data, err := cmm.SRGBProfile()
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		panic(err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), out)
}
