// Package resolver implements the dependency resolver: a Kahn-style
// topological sort over a job's before/after edges, with cycle marking.
// Ported from the incoming-edge-counting algorithm in
// _examples/original_source/tsort.c.
package resolver

import (
	"github.com/jobd/jobd/internal/job"
)

// Node is the minimal view of a job the resolver needs: its label and its
// declared before/after edge sets. *job.Job satisfies this via an adapter in
// the registry package; it is expressed as an interface here so the
// algorithm can be tested in isolation from the Job type.
type Node interface {
	Label() string
	Before() []string
	After() []string
}

// Sort returns nodes in an order such that for any pair (A, B) where A must
// precede B (B.After contains A, or A.Before contains B), A appears first.
// Nodes left over once no zero-incoming node remains (cycle members and
// anything ordered after them) are not in ordered; they are returned in
// cyclic, in the order they were given, so the caller can mark them
// job.StateError (spec.md §4.2 step 3). Tie-breaking among
// zero-incoming nodes is unspecified, matching the original's "find first
// match" behavior.
func Sort(nodes []Node) (ordered []Node, cyclic []Node) {
	byLabel := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byLabel[n.Label()] = n
	}

	incoming := make(map[string]int, len(nodes))
	for _, n := range nodes {
		incoming[n.Label()] = 0
	}

	// Two-pass incoming edge count: after-edges and before-edges are
	// equivalent directions of the same relationship (invariant 6).
	for _, cur := range nodes {
		for _, after := range cur.After() {
			if after == cur.Label() {
				continue
			}
			if _, ok := byLabel[after]; ok {
				incoming[cur.Label()]++
			}
		}
	}
	for _, cur := range nodes {
		for _, before := range cur.Before() {
			if before == cur.Label() {
				continue
			}
			if _, ok := byLabel[before]; ok {
				incoming[before]++
			}
		}
	}

	remaining := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		remaining[n.Label()] = n
	}

	for len(remaining) > 0 {
		var cur Node
		for _, n := range nodes {
			if r, ok := remaining[n.Label()]; ok && incoming[n.Label()] == 0 {
				cur = r
				break
			}
		}

		if cur == nil {
			// Every remaining node has a positive incoming count: a cycle.
			// Append the leftovers in declaration order, as tsort.c does
			// with LIST_FOREACH_SAFE.
			for _, n := range nodes {
				if _, ok := remaining[n.Label()]; ok {
					cyclic = append(cyclic, n)
				}
			}
			return ordered, cyclic
		}

		delete(remaining, cur.Label())
		ordered = append(ordered, cur)

		for _, before := range cur.Before() {
			if _, ok := incoming[before]; ok {
				incoming[before]--
			}
		}
		for _, n := range nodes {
			if n.Label() == cur.Label() {
				continue
			}
			for _, after := range n.After() {
				if after == cur.Label() {
					incoming[n.Label()]--
				}
			}
		}
	}

	return ordered, cyclic
}
