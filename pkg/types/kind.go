package types

import (
	"path/filepath"
	"strings"
)

// Kind classifies a source file and selects both its parser and its
// ingestion route.
type Kind string

const (
	// KindTaps is newline-delimited JSON of tap events.
	KindTaps Kind = "taps"

	// KindPrints is newline-delimited JSON of print (impression) events.
	KindPrints Kind = "prints"

	// KindPays is a header-bearing CSV of payments.
	KindPays Kind = "pays"
)

// DefaultFiles is the fixed file list processed by a run unless configured otherwise.
var DefaultFiles = []string{"taps.json", "prints.json", "pays.csv"}

// KindFromFileName derives the kind by stripping the extension from the
// base name: "prints.json" -> "prints".
func KindFromFileName(fileName string) Kind {
	base := filepath.Base(fileName)
	return Kind(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTaps, KindPrints, KindPays:
		return true
	default:
		return false
	}
}

// IsEvent reports whether k holds JSON event lines.
func (k Kind) IsEvent() bool {
	return k == KindTaps || k == KindPrints
}

func (k Kind) String() string {
	return string(k)
}
