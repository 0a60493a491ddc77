package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// definition is one captured declaration, or a scope that qualifies the
// names inside it without being a symbol itself (a Rust impl block).
type definition struct {
	name      string
	kind      store.SymbolType
	receiver  string
	scope     bool
	start     uint32
	end       uint32
	nameStart uint32
	startLine int
	endLine   int

	fqn    string // empty for scopes
	prefix string // what nested names are qualified with
}

func (d *definition) contains(pos uint32) bool {
	return d.start <= pos && pos < d.end
}

func (d *definition) encloses(other *definition) bool {
	return d.start <= other.start && other.end <= d.end
}

// extractDefinitions runs the definitions query and assigns FQNs and
// parents by byte-range containment. Symbols come back in source order.
func extractDefinitions(parsed *runtime.Parsed, rel string) ([]store.CodeSymbol, []*definition, error) {
	q, err := runtime.Query(parsed.Language, runtime.Definitions)
	if err != nil {
		return nil, nil, err
	}

	defs, err := collectDefinitions(runtime.RunQuery(q, parsed.Root(), parsed.Source))
	if err != nil {
		return nil, nil, err
	}

	var (
		syms  []store.CodeSymbol
		stack []*definition
		seen  = make(map[string]bool)
	)
	for _, d := range defs {
		for len(stack) > 0 && !stack[len(stack)-1].encloses(d) {
			stack = stack[:len(stack)-1]
		}

		var enclosing, parent *definition
		if len(stack) > 0 {
			enclosing = stack[len(stack)-1]
		}
		for i := len(stack) - 1; i >= 0; i-- {
			if !stack[i].scope {
				parent = stack[i]
				break
			}
		}

		base := rel + "::"
		if enclosing != nil {
			base = enclosing.prefix + "."
		}
		if d.scope {
			d.prefix = base + d.receiver
			stack = append(stack, d)
			continue
		}
		if d.receiver != "" {
			base += d.receiver + "."
		}

		kind := d.kind
		if kind == store.SymbolFunction && enclosing != nil && (enclosing.scope || enclosing.kind.IsType()) {
			kind = store.SymbolMethod
		}

		fqn := base + d.name
		if seen[fqn] {
			fqn = fmt.Sprintf("%s@%d", fqn, d.startLine)
		}
		seen[fqn] = true
		d.fqn, d.prefix, d.kind = fqn, fqn, kind

		sym := store.CodeSymbol{
			FQN:       fqn,
			Name:      d.name,
			Type:      kind,
			FilePath:  rel,
			StartLine: d.startLine,
			EndLine:   d.endLine,
		}
		if parent != nil {
			sym.Parent = parent.fqn
		}
		syms = append(syms, sym)
		stack = append(stack, d)
	}
	return syms, defs, nil
}

// collectDefinitions converts query matches to definitions, dropping
// duplicate captures of the same node, sorted outermost first.
func collectDefinitions(matches []runtime.Match) ([]*definition, error) {
	type key struct {
		start, end uint32
		scope      bool
	}
	seen := make(map[key]bool)
	var defs []*definition

	for _, m := range matches {
		d := &definition{}
		var hasRange bool
		for _, c := range m.Captures {
			switch {
			case c.Name == runtime.CaptureName:
				d.name = c.Text
				d.nameStart = c.StartByte
			case c.Name == runtime.CaptureReceiver:
				d.receiver = c.Text
			case c.Name == runtime.CaptureScope:
				d.scope = true
				d.start, d.end = c.StartByte, c.EndByte
				d.startLine, d.endLine = c.StartLine, c.EndLine
				hasRange = true
			case strings.HasPrefix(c.Name, runtime.CaptureDefinition):
				kind, err := store.ParseSymbolType(strings.TrimPrefix(c.Name, runtime.CaptureDefinition))
				if err != nil {
					return nil, fmt.Errorf("%w: capture @%s: %v", runtime.ErrQuery, c.Name, err)
				}
				d.kind = kind
				d.start, d.end = c.StartByte, c.EndByte
				d.startLine, d.endLine = c.StartLine, c.EndLine
				hasRange = true
			}
		}
		if !hasRange || (!d.scope && d.name == "") || (d.scope && d.receiver == "") {
			continue
		}
		k := key{d.start, d.end, d.scope}
		if seen[k] {
			continue
		}
		seen[k] = true
		defs = append(defs, d)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].start != defs[j].start {
			return defs[i].start < defs[j].start
		}
		return defs[i].end > defs[j].end
	})
	return defs, nil
}

// innermost returns the deepest definition containing pos, and the deepest
// one that is a symbol rather than a scope. defs must be sorted outermost
// first.
func innermost(defs []*definition, pos uint32) (inner, symbol *definition) {
	for _, d := range defs {
		if d.start > pos {
			break
		}
		if !d.contains(pos) {
			continue
		}
		inner = d
		if !d.scope {
			symbol = d
		}
	}
	return inner, symbol
}
