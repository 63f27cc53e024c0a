//go:build !strict

package cmm

const srgbAvailable = true
