// Package geo parses geographic coordinate text into normalized decimal
// degrees.
//
// Map labels express positions in several incompatible notations: UTM grid
// references, degrees-minutes-seconds, degrees with decimal minutes, and plain
// decimal degrees. Parse tries a fixed sequence of notation parsers, most
// specific first, because the generic decimal pattern happily matches fragments
// of the structured ones. Each notation parser either produces a candidate
// tagged with its notation and a certainty factor, or no match at all.
//
// The package is pure: parsing has no side effects and is deterministic for a
// given input string.
package geo
