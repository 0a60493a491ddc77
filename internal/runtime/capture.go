package runtime

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Capture is one named node of a query match. Lines are 1-based; Col is
// the 0-based byte column of the start point.
type Capture struct {
	Name      string
	Node      *sitter.Node
	Text      string
	StartByte uint32
	EndByte   uint32
	StartLine int
	EndLine   int
	Col       int
}

// Match is the set of captures produced by one pattern match.
type Match struct {
	Pattern  uint16
	Captures []Capture
}

// Get returns the first capture with the given name.
func (m Match) Get(name string) (Capture, bool) {
	for _, c := range m.Captures {
		if c.Name == name {
			return c, true
		}
	}
	return Capture{}, false
}

// RunQuery executes q against node and returns every match in document
// order, after text predicates (#eq?, #match?) have been applied.
func RunQuery(q *sitter.Query, node *sitter.Node, src []byte) []Match {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, node)

	var results []Match
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, src)
		if len(match.Captures) == 0 {
			continue
		}

		m := Match{Pattern: match.PatternIndex}
		for _, capture := range match.Captures {
			n := capture.Node
			m.Captures = append(m.Captures, Capture{
				Name:      q.CaptureNameForId(capture.Index),
				Node:      n,
				Text:      n.Content(src),
				StartByte: n.StartByte(),
				EndByte:   n.EndByte(),
				StartLine: int(n.StartPoint().Row) + 1,
				EndLine:   int(n.EndPoint().Row) + 1,
				Col:       int(n.StartPoint().Column),
			})
		}
		results = append(results, m)
	}
	return results
}
