package xref

import (
	"fmt"
	"regexp"
	"strings"
)

// RelationshipKind classifies a (main, supplementary) pair of same-named
// symbols.
type RelationshipKind string

const (
	RelWrapper         RelationshipKind = "wrapper"
	RelImplementation  RelationshipKind = "implementation"
	RelInheritance     RelationshipKind = "inheritance"
	RelPossibleWrapper RelationshipKind = "possible_wrapper"
	RelUnrelated       RelationshipKind = "unrelated"
)

// Confidence returns the configured confidence for a relationship kind.
func (c ConfidenceConfig) Confidence(kind RelationshipKind) float64 {
	switch kind {
	case RelWrapper:
		return c.Wrapper
	case RelImplementation:
		return c.Implementation
	case RelInheritance:
		return c.Inheritance
	case RelPossibleWrapper:
		return c.PossibleWrapper
	case RelUnrelated:
		return c.Unrelated
	}
	return c.Unrelated
}

// RelationshipSubject is the main-project side of a classification: the
// symbol, the references extracted inside its range, the names its
// enclosing type inherits from, and the source lines of its file.
type RelationshipSubject struct {
	Symbol      CodeSymbol
	Refs        []SymbolReference
	ParentBases []string
	Lines       []string
}

// ClassifyRelationship inspects the syntax around a main-project symbol for
// patterns relating it to a supplementary symbol of the same name. It
// returns the kind and the evidence found.
func ClassifyRelationship(subject RelationshipSubject, sup SupplementarySymbolInfo) (RelationshipKind, []string) {
	main := subject.Symbol
	name := sup.Name

	if main.Type.IsType() && sup.Type.IsType() {
		var patterns []string
		for _, r := range subject.Refs {
			if r.Type == RefInherits && r.SymbolName == name {
				patterns = append(patterns, fmt.Sprintf("inherits:%s@%d", qualifiedText(subject.Lines, r), r.Line))
			}
		}
		if base, ok := qualifiedHeaderBase(subject, name); ok {
			patterns = append(patterns, "header_base:"+base)
		}
		if len(patterns) > 0 {
			return RelInheritance, patterns
		}
	}

	if !main.Type.IsCallable() {
		return RelUnrelated, nil
	}

	if owner := qualifier(sup.FQN); owner != "" && sup.Type.IsCallable() {
		for _, base := range subject.ParentBases {
			if base == owner {
				return RelImplementation, []string{"parent_inherits:" + owner}
			}
		}
	}

	var qualified, mentions []string
	for _, r := range subject.Refs {
		if r.SymbolName != name || r.Type == RefInherits || r.Type == RefImport {
			continue
		}
		text := qualifiedText(subject.Lines, r)
		if r.Type == RefCall && text != name {
			qualified = append(qualified, fmt.Sprintf("qualified_call:%s@%d", text, r.Line))
			continue
		}
		mentions = append(mentions, fmt.Sprintf("mention:%s@%d", text, r.Line))
	}
	if len(qualified) > 0 {
		return RelWrapper, qualified
	}
	if len(mentions) > 0 {
		return RelPossibleWrapper, mentions
	}
	return RelUnrelated, nil
}

// qualifiedText returns the reference's name with the qualifier written in
// front of it, e.g. "self.save", "super().save", "Lib::save". An
// unqualified name comes back unchanged.
func qualifiedText(lines []string, r SymbolReference) string {
	if r.Line < 1 || r.Line > len(lines) {
		return r.SymbolName
	}
	line := lines[r.Line-1]
	if r.Col > len(line) {
		return r.SymbolName
	}
	prefix := line[:r.Col]
	var sep string
	for _, candidate := range []string{"::", "->", "."} {
		if strings.HasSuffix(prefix, candidate) {
			sep = candidate
			break
		}
	}
	if sep == "" {
		return r.SymbolName
	}
	head := strings.TrimSuffix(prefix, sep)
	start := len(head)
scan:
	for start > 0 {
		c := head[start-1]
		switch {
		case isIdentByte(c) || c == '.' || c == ':':
			start--
		case c == ')' && start >= 2 && head[start-2] == '(':
			start -= 2
		default:
			break scan
		}
	}
	if start == len(head) {
		return r.SymbolName
	}
	return head[start:] + sep + r.SymbolName
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// qualifiedHeaderBase looks at the declaration's first lines for the name
// qualified by a module, as in "class User(lib.User)" or
// "struct User : lib::User".
func qualifiedHeaderBase(subject RelationshipSubject, name string) (string, bool) {
	s := subject.Symbol
	if s.StartLine < 1 || s.StartLine > len(subject.Lines) {
		return "", false
	}
	end := min(s.EndLine, s.StartLine+2, len(subject.Lines))
	header := strings.Join(subject.Lines[s.StartLine-1:end], " ")
	if i := strings.IndexByte(header, '{'); i >= 0 {
		header = header[:i]
	}
	re := regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.|::)` + regexp.QuoteMeta(name) + `\b`)
	m := re.FindString(header)
	return m, m != ""
}

// qualifier returns the owning type segment of a qualified FQN:
// "lib::User.save" -> "User", "lib::save" -> "".
func qualifier(fqn string) string {
	if i := strings.LastIndex(fqn, "::"); i >= 0 {
		fqn = fqn[i+2:]
	}
	if i := strings.IndexByte(fqn, '@'); i >= 0 {
		fqn = fqn[:i]
	}
	i := strings.LastIndexByte(fqn, '.')
	if i < 0 {
		return ""
	}
	owner := fqn[:i]
	return owner[strings.LastIndexByte(owner, '.')+1:]
}
