package node

import (
	"sort"
	"time"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/rpc"
)

// waveEvaluator inspects the responses gathered during one round and
// decides whether the wave should halt. result is opaque to runWave and
// simply passed back to the caller on halt.
type waveEvaluator func(responses []rpc.Message, known map[id.ID]peer.Info, queriedCount int) (halt bool, result interface{})

// runWave drives the parallel-iterative exploration described in
// spec.md §4.5.3, shared by Locate, Probe, and Retrieve. buildRequest
// produces the kind-specific request for a candidate peer; responseKind
// is the RPC kind the wave waits for; evaluator is called once per round
// and once more after the final grace period.
//
// Grounded on original_source/src/node/resources.rs's find_node: the
// alpha-closest-unqueried seed selection, the impatience-adjusted expected
// response count, the three-times-network-timeout global deadline, and the
// final "one more wait" grace period after the main loop exits.
func (e *Engine) runWave(target id.ID, buildRequest func(peer.Info) rpc.Message, responseKind rpc.Kind, evaluator waveEvaluator) (interface{}, error) {
	known := make(map[id.ID]peer.Info)
	for _, p := range e.table.ClosestTo(target) {
		known[p.ID] = p
	}

	queried := make(map[id.ID]struct{})
	globalDeadline := time.Now().Add(3 * e.cfg.NetworkTimeout)

	for time.Now().Before(globalDeadline) {
		seeds := closestUnqueried(known, target, queried, e.cfg.Alpha)
		if len(seeds) == 0 {
			break
		}

		expected := e.cfg.Alpha - e.cfg.Impatience
		if expected > len(seeds) {
			expected = len(seeds)
		}
		if expected < 0 {
			expected = 0
		}

		receptions := e.Receptions().OfKind(responseKind).During(e.cfg.NetworkTimeout)

		for _, s := range seeds {
			queried[s.ID] = struct{}{}
			e.send(s.Addr, buildRequest(s))
		}

		responses := collectN(receptions, expected)
		mergeResponsePeers(known, responses)

		if halt, result := evaluator(responses, known, len(queried)); halt {
			return result, nil
		}
	}

	// Final grace period: responses from seeds we gave up on early may
	// still arrive (spec §4.5.3's impatience compensation).
	final := e.Receptions().OfKind(responseKind).During(e.cfg.NetworkTimeout)
	responses := drainAll(final)
	mergeResponsePeers(known, responses)
	if halt, result := evaluator(responses, known, len(queried)); halt {
		return result, nil
	}

	return nil, ErrUnresponsiveNetwork
}

// closestUnqueried returns up to n of the peers in known, closest to
// target, excluding anything already in queried.
func closestUnqueried(known map[id.ID]peer.Info, target id.ID, queried map[id.ID]struct{}, n int) []peer.Info {
	candidates := make([]peer.Info, 0, len(known))
	for _, p := range known {
		if _, done := queried[p.ID]; done {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.XOR(target).Less(candidates[j].ID.XOR(target))
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// collectN reads up to n matching responses from r before its deadline.
func collectN(r *Receptions, n int) []rpc.Message {
	defer r.Close()
	if n <= 0 {
		return nil
	}
	out := make([]rpc.Message, 0, n)
	for len(out) < n {
		m, ok := r.Next()
		if !ok {
			break
		}
		out = append(out, m)
	}
	return out
}

func drainAll(r *Receptions) []rpc.Message {
	defer r.Close()
	var out []rpc.Message
	for {
		m, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// mergeResponsePeers folds every peer descriptor named in responses (by
// kind) into known, so the next round's seed selection sees them.
func mergeResponsePeers(known map[id.ID]peer.Info, responses []rpc.Message) {
	for _, m := range responses {
		known[m.Sender.ID] = m.Sender
		switch m.Kind {
		case rpc.KindLocateResponse:
			if m.Outcome == rpc.LocateFound {
				known[m.Found.ID] = m.Found
			} else {
				for _, p := range m.Closest {
					known[p.ID] = p
				}
			}
		case rpc.KindProbeResponse:
			for _, p := range m.Peers {
				known[p.ID] = p
			}
		case rpc.KindRetrieveResponse:
			if m.RetrieveKind == rpc.RetrieveClosest {
				for _, p := range m.Closest {
					known[p.ID] = p
				}
			}
		}
	}
}
