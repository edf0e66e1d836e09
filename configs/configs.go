// Package configs holds files compiled into the binary.
package configs

import _ "embed"

// Preamble is the default system preamble, used when SYSTEM.md is absent
// from the runtime dir.
//
//go:embed PREAMBLE.md
var Preamble string
