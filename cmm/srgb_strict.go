//go:build strict

package cmm

// Strict builds require real profile bytes for every device space.
const srgbAvailable = false
