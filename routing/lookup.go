package routing

import "github.com/PabloMansanet/subotai/peer"

// LookupKind classifies the result of a Lookup.
type LookupKind int

const (
	// LookupFound reports that the exact target ID is present in the table.
	LookupFound LookupKind = iota
	// LookupClosest reports the closest known peers to the target, which
	// was not itself found.
	LookupClosest
	// LookupNothing reports that the table holds no usable result (empty,
	// or everything was blacklisted).
	LookupNothing
)

// LookupResult is the tagged result of Table.Lookup.
type LookupResult struct {
	Kind    LookupKind
	Peer    peer.Info
	Closest []peer.Info
}

// IsNothing reports whether the lookup produced no usable result.
func (r LookupResult) IsNothing() bool {
	return r.Kind == LookupNothing
}
