// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package graph

import (
	"testing"

	"pgregory.net/rapid"
)

func edgeGen(nodeCount int) *rapid.Generator[Edge[int]] {
	return rapid.Custom(func(t *rapid.T) Edge[int] {
		return Edge[int]{
			From: rapid.IntRange(0, nodeCount-1).Draw(t, "from"),
			To:   rapid.IntRange(0, nodeCount-1).Draw(t, "to"),
		}
	})
}

// reachable computes the forward reachability set of every node, self
// included.
func reachable(nodes []int, edges []Edge[int]) map[int]map[int]bool {
	adj := make(map[int][]int)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	out := make(map[int]map[int]bool, len(nodes))
	for _, start := range nodes {
		seen := map[int]bool{start: true}
		queue := []int{start}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, w := range adj[v] {
				if !seen[w] {
					seen[w] = true
					queue = append(queue, w)
				}
			}
		}
		out[start] = seen
	}
	return out
}

func TestTarjan_RandomGraphPartition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nodeCount := rapid.IntRange(1, 12).Draw(rt, "nodeCount")
		nodes := make([]int, nodeCount)
		for i := range nodes {
			nodes[i] = i
		}
		edges := rapid.SliceOfN(edgeGen(nodeCount), 0, 30).Draw(rt, "edges")

		comps, compID := Tarjan(nodes, edges)

		// Every node lands in exactly one component.
		counts := make(map[int]int)
		for _, comp := range comps {
			for _, n := range comp {
				counts[n]++
			}
		}
		for _, n := range nodes {
			if counts[n] != 1 {
				rt.Fatalf("node %d appears in %d components", n, counts[n])
			}
		}

		// Two nodes share a component exactly when they reach each other.
		reach := reachable(nodes, edges)
		for _, a := range nodes {
			for _, b := range nodes {
				mutual := reach[a][b] && reach[b][a]
				same := compID[a] == compID[b]
				if mutual != same {
					rt.Fatalf("nodes %d and %d: mutual reachability %v but same component %v", a, b, mutual, same)
				}
			}
		}
	})
}

func TestBuildOrder_RandomGraphDependencyFirst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nodeCount := rapid.IntRange(1, 12).Draw(rt, "nodeCount")
		nodes := make([]int, nodeCount)
		for i := range nodes {
			nodes[i] = i
		}
		edges := rapid.SliceOfN(edgeGen(nodeCount), 0, 30).Draw(rt, "edges")

		phases := BuildOrder(nodes, edges)

		idx := phaseIndex(phases)
		total := 0
		for _, phase := range phases {
			total += len(phase)
		}
		if total != nodeCount {
			rt.Fatalf("phases hold %d nodes, want %d", total, nodeCount)
		}

		for _, e := range edges {
			if idx[e.To] > idx[e.From] {
				rt.Fatalf("dependency %d phased after its dependent %d", e.To, e.From)
			}
		}
	})
}
