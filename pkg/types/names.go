package types

import "golang.org/x/text/cases"

// FoldName returns the case-folded form of a property, relationship, or class
// name. Names are matched case-insensitively everywhere in the runtime.
//
// A cases.Caser is stateful, so each call builds its own.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// SameName reports whether two names are equal under case folding.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
