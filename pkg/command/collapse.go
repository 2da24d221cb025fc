package command

import (
	"sort"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// collapse reduces a message queue to the minimal set of messages that
// still represent active, unresolved commands. The input slice is not
// modified; the returned slice is ordered oldest-first by TS.
//
// The pass is pure and deterministic: because it sorts by TS first
// (stable, so equal timestamps keep arrival order), any delivery
// permutation of the same message set collapses to the same result. That
// determinism is what makes duplicate redelivery and historical/live
// merge ordering safe.
//
// Quadratic in queue size; queues are bounded by the historical fetch
// cap and continuously pruned by obsoletion.
func collapse(queue []*message.Message, h Handler) []*message.Message {
	sorted := make([]*message.Message, len(queue))
	copy(sorted, queue)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TS.Before(sorted[j].TS)
	})

	// Strip unrelated traffic sharing the same subscription before the
	// quadratic scan.
	relevant := sorted[:0]
	for _, m := range sorted {
		if h.IsRelevant(m) {
			relevant = append(relevant, m)
		}
	}

	var collapsed []*message.Message
	for i, upstream := range relevant {
		if !h.IsCommand(upstream) {
			// Non-command messages exist only to obsolete commands.
			continue
		}
		if upstream.Expired() {
			// Expiration is a universal supersession signal; an expired
			// command is dropped even when nothing follows it.
			continue
		}
		obsoleted := false
		for _, downstream := range relevant[i+1:] {
			if h.Obsoletes(downstream, upstream) {
				obsoleted = true
				break
			}
		}
		if !obsoleted {
			collapsed = append(collapsed, upstream)
		}
	}

	return collapsed
}
