// Package node implements the operation engine and node lifecycle: the
// layer that sends and handles RPCs, runs lookup/store/retrieve as
// parallel iterative waves, and drives the three background activities
// (reception, conflict resolution, maintenance).
//
// Adapted from original_source/src/node/resources.rs (Resources, the
// synchronous RPC-driving layer) and original_source/src/node/mod.rs (the
// reception loop and public Node facade), generalized from Subotai's
// FindNode/Bootstrap-only RPC set to the full Locate/Probe/Retrieve/
// Store/MassStore set in spec.md §4.4-§4.5.
package node

import "time"

// Configuration holds every tunable frozen at node construction
// (spec.md §3).
type Configuration struct {
	Alpha                       int
	Impatience                  int
	KFactor                     int
	MaxConflicts                int
	MaxStorage                  int
	MaxBlobBytes                int
	ExpirationDistanceThreshold int
	BaseExpirationHours         int
	NetworkTimeout              time.Duration
	MaintenanceSleep            time.Duration
	BootstrapTries              int
	ReceptionReadTimeout        time.Duration
}

// DefaultConfiguration mirrors spec.md §3's defaults.
func DefaultConfiguration() Configuration {
	return Configuration{
		Alpha:                       3,
		Impatience:                  1,
		KFactor:                     20,
		MaxConflicts:                60,
		MaxStorage:                  10000,
		MaxBlobBytes:                1024,
		ExpirationDistanceThreshold: 8,
		BaseExpirationHours:         24,
		NetworkTimeout:              5 * time.Second,
		MaintenanceSleep:            5 * time.Second,
		BootstrapTries:              20,
		ReceptionReadTimeout:        200 * time.Millisecond,
	}
}
