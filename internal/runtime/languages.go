package runtime

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language is a canonical language name.
type Language string

const (
	Go         Language = "go"
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	Rust       Language = "rust"
	Java       Language = "java"
	CPP        Language = "cpp"
	CSharp     Language = "csharp"
)

// Languages lists every supported language.
var Languages = []Language{Go, Python, JavaScript, TypeScript, TSX, Rust, Java, CPP, CSharp}

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]Language{
	".go":   Go,
	".py":   Python,
	".pyi":  Python,
	".pyw":  Python,
	".js":   JavaScript,
	".jsx":  JavaScript,
	".mjs":  JavaScript,
	".cjs":  JavaScript,
	".ts":   TypeScript,
	".mts":  TypeScript,
	".tsx":  TSX,
	".rs":   Rust,
	".java": Java,
	".cpp":  CPP,
	".cc":   CPP,
	".cxx":  CPP,
	".c++":  CPP,
	".c":    CPP,
	".hpp":  CPP,
	".hh":   CPP,
	".hxx":  CPP,
	".h++":  CPP,
	".h":    CPP,
	".cs":   CSharp,
}

// langToGrammar maps language names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[Language]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[Language]*sitter.Language{
			Go:         golang.GetLanguage(),
			Python:     python.GetLanguage(),
			JavaScript: javascript.GetLanguage(),
			TypeScript: ts.GetLanguage(),
			TSX:        tsx.GetLanguage(),
			Rust:       rust.GetLanguage(),
			Java:       java.GetLanguage(),
			CPP:        cpp.GetLanguage(),
			CSharp:     csharp.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language for a file path based on
// its extension, compared case-insensitively. Returns ("", false) if the
// extension is not recognized.
func LanguageForFile(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ParseLanguage converts a language name to a Language.
func ParseLanguage(name string) (Language, bool) {
	for _, l := range Languages {
		if string(l) == strings.ToLower(name) {
			return l, true
		}
	}
	return "", false
}

// Grammar returns the tree-sitter grammar for a language. Returns
// (nil, false) if the language is not supported.
func Grammar(lang Language) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}
