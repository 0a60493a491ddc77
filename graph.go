package xref

import (
	"sort"

	"github.com/jward/xref/internal/store"
)

// NodeType is the kind of a graph node: a file or one of the symbol types.
type NodeType string

// NodeFile marks file nodes. Symbol nodes use their SymbolType's value.
const NodeFile NodeType = "file"

// NodeTypeFor maps a symbol type to its node type.
func NodeTypeFor(t SymbolType) NodeType {
	switch t {
	case store.SymbolFunction, store.SymbolMethod, store.SymbolClass, store.SymbolStruct,
		store.SymbolEnum, store.SymbolInterface, store.SymbolModule, store.SymbolImport:
		return NodeType(t)
	}
	return NodeType(store.SymbolFunction)
}

// EdgeType is the kind of a graph edge.
type EdgeType string

const (
	EdgeCalls      EdgeType = "calls"
	EdgeImports    EdgeType = "imports"
	EdgeInherits   EdgeType = "inherits"
	EdgeContains   EdgeType = "contains"
	EdgeReferences EdgeType = "references"
)

// EdgeTypeFor maps a reference type to the edge it produces.
func EdgeTypeFor(t ReferenceType) EdgeType {
	switch t {
	case store.RefCall:
		return EdgeCalls
	case store.RefImport:
		return EdgeImports
	case store.RefInherits:
		return EdgeInherits
	case store.RefUsage:
		return EdgeReferences
	}
	return EdgeReferences
}

// FileNodeID returns the node ID of a file.
func FileNodeID(path string) string { return "file:" + path }

// SymbolNodeID returns the node ID of a symbol.
func SymbolNodeID(fqn string) string { return "symbol:" + fqn }

// CodeNode is a file or symbol in the graph.
type CodeNode struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      NodeType `json:"node_type"`
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
}

// CodeEdge connects two node IDs.
type CodeEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"edge_type"`
}

func edgeLess(a, b CodeEdge) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Target != b.Target {
		return a.Target < b.Target
	}
	return a.Type < b.Type
}

// CodeReferenceGraph is the node map plus edge list built by a Mapper.
// Every edge endpoint is a node in the graph.
type CodeReferenceGraph struct {
	Nodes map[string]CodeNode
	Edges []CodeEdge

	byName   map[string][]string
	incident map[string][]int // node ID -> indexes into Edges
}

// NewCodeReferenceGraph returns an empty graph.
func NewCodeReferenceGraph() *CodeReferenceGraph {
	return &CodeReferenceGraph{
		Nodes:    make(map[string]CodeNode),
		byName:   make(map[string][]string),
		incident: make(map[string][]int),
	}
}

// AddNode inserts or replaces a node.
func (g *CodeReferenceGraph) AddNode(n CodeNode) {
	if _, exists := g.Nodes[n.ID]; !exists {
		g.byName[n.Name] = append(g.byName[n.Name], n.ID)
	}
	g.Nodes[n.ID] = n
}

// AddEdge appends an edge. Edges whose endpoints are not both nodes are
// ignored and reported as false.
func (g *CodeReferenceGraph) AddEdge(e CodeEdge) bool {
	if _, ok := g.Nodes[e.Source]; !ok {
		return false
	}
	if _, ok := g.Nodes[e.Target]; !ok {
		return false
	}
	idx := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.incident[e.Source] = append(g.incident[e.Source], idx)
	if e.Target != e.Source {
		g.incident[e.Target] = append(g.incident[e.Target], idx)
	}
	return true
}

// NodesNamed returns the IDs of nodes with the given name, sorted.
func (g *CodeReferenceGraph) NodesNamed(name string) []string {
	ids := append([]string(nil), g.byName[name]...)
	sort.Strings(ids)
	return ids
}

// EdgesOf returns the edges touching a node in insertion order.
func (g *CodeReferenceGraph) EdgesOf(id string) []CodeEdge {
	idxs := g.incident[id]
	out := make([]CodeEdge, len(idxs))
	for i, idx := range idxs {
		out[i] = g.Edges[idx]
	}
	return out
}

// SortedNodes returns every node ordered by ID.
func (g *CodeReferenceGraph) SortedNodes() []CodeNode {
	out := make([]CodeNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []CodeNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// SortedEdges returns the distinct edges ordered by (source, target, type).
func (g *CodeReferenceGraph) SortedEdges() []CodeEdge {
	return dedupeEdges(g.Edges)
}

func dedupeEdges(edges []CodeEdge) []CodeEdge {
	seen := make(map[CodeEdge]bool, len(edges))
	out := make([]CodeEdge, 0, len(edges))
	for _, e := range edges {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return edgeLess(out[i], out[j]) })
	return out
}
