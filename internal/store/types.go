package store

import (
	"fmt"
	"time"
)

// SymbolType is the closed set of symbol kinds the extractor produces.
type SymbolType string

const (
	SymbolFunction  SymbolType = "function"
	SymbolMethod    SymbolType = "method"
	SymbolClass     SymbolType = "class"
	SymbolStruct    SymbolType = "struct"
	SymbolEnum      SymbolType = "enum"
	SymbolInterface SymbolType = "interface"
	SymbolModule    SymbolType = "module"
	SymbolImport    SymbolType = "import"
)

// SymbolTypes lists every SymbolType in declaration order.
var SymbolTypes = []SymbolType{
	SymbolFunction, SymbolMethod, SymbolClass, SymbolStruct,
	SymbolEnum, SymbolInterface, SymbolModule, SymbolImport,
}

// ParseSymbolType converts a string to a SymbolType. Matching is exact.
func ParseSymbolType(s string) (SymbolType, error) {
	for _, t := range SymbolTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown symbol type %q", s)
}

// IsType reports whether the symbol type declares a type that can own members.
func (t SymbolType) IsType() bool {
	switch t {
	case SymbolClass, SymbolStruct, SymbolInterface, SymbolEnum:
		return true
	case SymbolFunction, SymbolMethod, SymbolModule, SymbolImport:
		return false
	}
	return false
}

// IsCallable reports whether the symbol type has a body that can call things.
func (t SymbolType) IsCallable() bool {
	switch t {
	case SymbolFunction, SymbolMethod:
		return true
	case SymbolClass, SymbolStruct, SymbolInterface, SymbolEnum, SymbolModule, SymbolImport:
		return false
	}
	return false
}

// ReferenceType classifies a SymbolReference by the syntax that produced it.
type ReferenceType string

const (
	RefCall     ReferenceType = "call"
	RefUsage    ReferenceType = "usage"
	RefImport   ReferenceType = "import"
	RefInherits ReferenceType = "inherits"
)

// ReferenceTypes lists every ReferenceType in declaration order.
var ReferenceTypes = []ReferenceType{RefCall, RefUsage, RefImport, RefInherits}

// ParseReferenceType converts a string to a ReferenceType. Matching is exact.
func ParseReferenceType(s string) (ReferenceType, error) {
	for _, t := range ReferenceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown reference type %q", s)
}

// Priority orders reference types when two captures land on the same
// source position. Higher wins.
func (t ReferenceType) Priority() int {
	switch t {
	case RefInherits:
		return 3
	case RefCall:
		return 2
	case RefImport:
		return 1
	case RefUsage:
		return 0
	}
	return -1
}

// CodeSymbol is a named declaration. FQN is the unique key.
// Lines are 1-based and inclusive.
type CodeSymbol struct {
	FQN       string     `json:"fqn"`
	Name      string     `json:"name"`
	Type      SymbolType `json:"symbol_type"`
	FilePath  string     `json:"file_path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Parent    string     `json:"parent,omitempty"`
}

// Contains reports whether line falls inside the symbol's range.
func (s CodeSymbol) Contains(line int) bool {
	return s.StartLine <= line && line <= s.EndLine
}

// Span is the number of lines covered minus one.
func (s CodeSymbol) Span() int {
	return s.EndLine - s.StartLine
}

// SymbolReference is one use of a name. SymbolFQN is empty while unresolved.
// Source is the FQN of the innermost symbol containing the use, empty at
// file level. Line is 1-based, Col is 0-based.
type SymbolReference struct {
	SymbolName string        `json:"symbol_name"`
	SymbolFQN  string        `json:"symbol_fqn,omitempty"`
	Type       ReferenceType `json:"reference_type"`
	File       string        `json:"reference_file"`
	Line       int           `json:"reference_line"`
	Col        int           `json:"reference_col"`
	Source     string        `json:"source_fqn,omitempty"`
}

// UnresolvedReference is a reference whose target was not found in the
// project's own symbol table.
type UnresolvedReference struct {
	SourceFQN  string        `json:"source_fqn"`
	TargetName string        `json:"target_fqn"`
	Type       ReferenceType `json:"reference_type"`
	SourceFile string        `json:"source_file"`
	Line       int           `json:"line_number"`
}

// FileMetadata is the change-detection snapshot entry for one file.
type FileMetadata struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Changed reports whether other differs in modification time or size.
func (m FileMetadata) Changed(other FileMetadata) bool {
	return !m.ModTime.Equal(other.ModTime) || m.Size != other.Size
}
