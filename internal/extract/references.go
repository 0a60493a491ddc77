package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// extractReferences runs the references query. When several patterns
// capture the same name node the highest-priority reference type wins.
// Usage captures that land on a definition's own name are dropped.
func extractReferences(parsed *runtime.Parsed, rel string, defs []*definition) ([]store.SymbolReference, error) {
	q, err := runtime.Query(parsed.Language, runtime.References)
	if err != nil {
		return nil, err
	}

	defNames := make(map[uint32]bool, len(defs))
	byType := make(map[string]*definition)
	for _, d := range defs {
		if d.scope {
			continue
		}
		defNames[d.nameStart] = true
		if d.kind.IsType() {
			if _, ok := byType[d.name]; !ok {
				byType[d.name] = d
			}
		}
	}

	type captured struct {
		ref  store.SymbolReference
		pos  uint32
		prio int
	}
	byPos := make(map[uint32]*captured)

	for _, m := range runtime.RunQuery(q, parsed.Root(), parsed.Source) {
		name, ok := m.Get(runtime.CaptureName)
		if !ok {
			continue
		}
		var refType store.ReferenceType
		for _, c := range m.Captures {
			if strings.HasPrefix(c.Name, runtime.CaptureReference) {
				refType, err = store.ParseReferenceType(strings.TrimPrefix(c.Name, runtime.CaptureReference))
				if err != nil {
					return nil, fmt.Errorf("%w: capture @%s: %v", runtime.ErrQuery, c.Name, err)
				}
			}
		}
		if refType == "" {
			continue
		}
		if refType == store.RefUsage && defNames[name.StartByte] {
			continue
		}

		text := name.Text
		if refType == store.RefImport {
			text = cleanImport(text)
		}
		if text == "" {
			continue
		}

		if prev, ok := byPos[name.StartByte]; ok && prev.prio >= refType.Priority() {
			continue
		}
		byPos[name.StartByte] = &captured{
			pos:  name.StartByte,
			prio: refType.Priority(),
			ref: store.SymbolReference{
				SymbolName: text,
				Type:       refType,
				File:       rel,
				Line:       name.StartLine,
				Col:        name.Col,
			},
		}
	}

	refs := make([]store.SymbolReference, 0, len(byPos))
	for _, c := range byPos {
		inner, sym := innermost(defs, c.pos)
		if sym != nil {
			c.ref.Source = sym.fqn
		}
		// impl Trait for Type: the trait is inherited by the receiver type.
		if inner != nil && inner.scope && c.ref.Type == store.RefInherits {
			if owner, ok := byType[inner.receiver]; ok {
				c.ref.Source = owner.fqn
			}
		}
		refs = append(refs, c.ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Line != refs[j].Line {
			return refs[i].Line < refs[j].Line
		}
		return refs[i].Col < refs[j].Col
	})
	return refs, nil
}

// importSymbols creates one Import symbol per import reference, named by
// the imported path's last segment.
func importSymbols(refs []store.SymbolReference, rel string, existing []store.CodeSymbol) []store.CodeSymbol {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s.FQN] = true
	}

	var out []store.CodeSymbol
	for _, r := range refs {
		if r.Type != store.RefImport {
			continue
		}
		name := LastSegment(r.SymbolName)
		if name == "" {
			continue
		}
		fqn := rel + "::import." + name
		if seen[fqn] {
			fqn = fmt.Sprintf("%s@%d", fqn, r.Line)
		}
		if seen[fqn] {
			continue
		}
		seen[fqn] = true
		out = append(out, store.CodeSymbol{
			FQN:       fqn,
			Name:      name,
			Type:      store.SymbolImport,
			FilePath:  rel,
			StartLine: r.Line,
			EndLine:   r.Line,
		})
	}
	return out
}

// resolveLocal sets SymbolFQN on references whose name is defined in the
// same file. Candidates nested in the reference's own enclosing chain win,
// innermost first, then top-level candidates, then the smallest FQN.
func resolveLocal(refs []store.SymbolReference, syms []store.CodeSymbol) {
	byName := make(map[string][]store.CodeSymbol)
	byFQN := make(map[string]store.CodeSymbol, len(syms))
	for _, s := range syms {
		byFQN[s.FQN] = s
		if s.Type != store.SymbolImport {
			byName[s.Name] = append(byName[s.Name], s)
		}
	}

	for i := range refs {
		r := &refs[i]
		if r.Type == store.RefImport || r.SymbolFQN != "" {
			continue
		}
		cands := byName[r.SymbolName]
		if r.Type == store.RefInherits {
			cands = withoutFQN(cands, r.Source)
		}
		if len(cands) == 0 {
			continue
		}

		scope := r.Source
		for scope != "" {
			if fqn := smallestWithParent(cands, scope); fqn != "" {
				r.SymbolFQN = fqn
				break
			}
			scope = byFQN[scope].Parent
		}
		if r.SymbolFQN == "" {
			r.SymbolFQN = smallestWithParent(cands, "")
		}
		if r.SymbolFQN == "" {
			r.SymbolFQN = smallestFQN(cands)
		}
	}
}

// withoutFQN drops fqn from cands. A type never inherits from itself, so
// "class User(lib.User)" must not resolve to the class being declared.
func withoutFQN(cands []store.CodeSymbol, fqn string) []store.CodeSymbol {
	var out []store.CodeSymbol
	for _, c := range cands {
		if c.FQN != fqn {
			out = append(out, c)
		}
	}
	return out
}

func smallestWithParent(cands []store.CodeSymbol, parent string) string {
	best := ""
	for _, c := range cands {
		if c.Parent == parent && (best == "" || c.FQN < best) {
			best = c.FQN
		}
	}
	return best
}

func smallestFQN(cands []store.CodeSymbol) string {
	best := cands[0].FQN
	for _, c := range cands[1:] {
		if c.FQN < best {
			best = c.FQN
		}
	}
	return best
}

// cleanImport strips quoting from an import path.
func cleanImport(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`<>"))
}

// LastSegment returns the final component of an import path or dotted
// name: "github.com/x/store" -> "store", "os.path" -> "path",
// "./utils.js" -> "utils", "std::fmt" -> "fmt".
func LastSegment(name string) string {
	name = cleanImport(name)
	if i := strings.LastIndexAny(name, `/\:`); i >= 0 {
		name = name[i+1:]
	}
	if _, ok := runtime.LanguageForFile(name); ok {
		name = strings.TrimSuffix(name, name[strings.LastIndexByte(name, '.'):])
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
