package registry

// Flags is the bitmask queries filter Packages by (spec.md §4.D).
type Flags uint8

const (
	FlagInstalled Flags = 1 << iota
	FlagAvailable
	FlagSource
	FlagExplicit
)

// With returns flags with f set.
func (flags Flags) With(f Flags) Flags { return flags | f }

// Contains reports whether flags has every bit set in want. A zero want
// matches unconditionally, mirroring the original's "default flags accept
// everything" behaviour.
func (flags Flags) Contains(want Flags) bool {
	return flags&want == want
}
