package xref

// MaxSubgraphDepth bounds SubgraphBFS.
const MaxSubgraphDepth = 5

// Subgraph is the induced subgraph returned by a BFS query. Nodes are
// ordered by ID and edges by (source, target, type).
type Subgraph struct {
	Nodes []CodeNode `json:"nodes"`
	Edges []CodeEdge `json:"edges"`
}

// Graph returns the current reference graph. Callers must not modify it.
func (m *Mapper) Graph() *CodeReferenceGraph {
	return m.graph
}

// SubgraphBFS returns every node within maxDepth hops of a node named name,
// plus the edges whose endpoints were both visited. Edges are followed in
// both directions. Depth 0 returns the seeds alone; maxDepth is clamped to
// [0, MaxSubgraphDepth]. An unknown name yields an empty subgraph.
func (m *Mapper) SubgraphBFS(name string, maxDepth int) Subgraph {
	return m.graph.SubgraphBFS(name, maxDepth)
}

// SubgraphBFS is the graph-level form of Mapper.SubgraphBFS.
func (g *CodeReferenceGraph) SubgraphBFS(name string, maxDepth int) Subgraph {
	maxDepth = max(0, min(maxDepth, MaxSubgraphDepth))

	visited := make(map[string]int) // node ID -> depth
	type bfsEntry struct {
		id    string
		depth int
	}
	var queue []bfsEntry
	for _, id := range g.NodesNamed(name) {
		visited[id] = 0
		queue = append(queue, bfsEntry{id: id})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}
		for _, e := range g.EdgesOf(current.id) {
			next := e.Target
			if next == current.id {
				next = e.Source
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = current.depth + 1
			queue = append(queue, bfsEntry{id: next, depth: current.depth + 1})
		}
	}

	sub := Subgraph{Nodes: []CodeNode{}, Edges: []CodeEdge{}}
	if len(visited) == 0 {
		return sub
	}
	for id := range visited {
		sub.Nodes = append(sub.Nodes, g.Nodes[id])
	}
	sortNodes(sub.Nodes)

	var edges []CodeEdge
	for _, e := range g.Edges {
		_, okSrc := visited[e.Source]
		_, okDst := visited[e.Target]
		if okSrc && okDst {
			edges = append(edges, e)
		}
	}
	sub.Edges = dedupeEdges(edges)
	return sub
}
