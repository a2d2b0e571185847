// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package graph computes strongly connected components and the
// dependency-first build order used to materialize pending resources.
package graph

// Edge is a directed (From, To) pair, read as "From depends on To".
type Edge[N comparable] struct {
	From N
	To   N
}

// Tarjan partitions the graph into strongly connected components in a
// single O(V+E) pass. Every node lands in exactly one component; edge
// endpoints that were not listed in nodes are included as well. Component
// and member ordering are DFS artifacts and carry no meaning — callers
// order phases through BuildOrder.
func Tarjan[N comparable](nodes []N, edges []Edge[N]) ([][]N, map[N]int) {
	// Include endpoints that weren't listed explicitly.
	order := make([]N, 0, len(nodes))
	nodeSet := make(map[N]bool, len(nodes))
	for _, n := range nodes {
		if !nodeSet[n] {
			nodeSet[n] = true
			order = append(order, n)
		}
	}
	for _, e := range edges {
		if !nodeSet[e.From] {
			nodeSet[e.From] = true
			order = append(order, e.From)
		}
		if !nodeSet[e.To] {
			nodeSet[e.To] = true
			order = append(order, e.To)
		}
	}

	adj := make(map[N][]N, len(nodeSet))
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	index := 0
	indices := make(map[N]int, len(nodeSet))
	lowlink := make(map[N]int, len(nodeSet))
	onStack := make(map[N]bool, len(nodeSet))
	var stack []N
	var comps [][]N

	var strongconnect func(v N)
	strongconnect = func(v N) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v roots an SCC: pop the stack down to v.
		if lowlink[v] == indices[v] {
			var comp []N
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}

	// Cover disconnected graphs and isolated nodes.
	for _, v := range order {
		if _, visited := indices[v]; !visited {
			strongconnect(v)
		}
	}

	compID := make(map[N]int, len(nodeSet))
	for id, comp := range comps {
		for _, v := range comp {
			compID[v] = id
		}
	}

	return comps, compID
}

// BuildOrder condenses the graph into one node per SCC and emits the
// components as phases in dependency-first order: a resource appears in a
// phase no later than anything that depends on it. A phase with two or more
// members is a cyclic cluster that must be created together.
func BuildOrder[N comparable](nodes []N, edges []Edge[N]) [][]N {
	comps, compID := Tarjan(nodes, edges)

	// Condensation adjacency. Acyclic by construction.
	condensed := make([][]int, len(comps))
	seen := make(map[[2]int]bool, len(edges))
	for _, e := range edges {
		from, to := compID[e.From], compID[e.To]
		if from == to {
			continue
		}
		if pair := [2]int{from, to}; !seen[pair] {
			seen[pair] = true
			condensed[from] = append(condensed[from], to)
		}
	}

	// DFS postorder emits a component only after everything it depends on.
	visited := make([]bool, len(comps))
	phases := make([][]N, 0, len(comps))

	var visit func(id int)
	visit = func(id int) {
		visited[id] = true
		for _, dep := range condensed[id] {
			if !visited[dep] {
				visit(dep)
			}
		}
		phases = append(phases, comps[id])
	}

	for id := range comps {
		if !visited[id] {
			visit(id)
		}
	}

	return phases
}
