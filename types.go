package xref

import "github.com/jward/xref/internal/store"

// Public type aliases for internal store types. These are Go type aliases
// (=), identical to the internal types at compile time.

type CodeSymbol = store.CodeSymbol
type SymbolReference = store.SymbolReference
type UnresolvedReference = store.UnresolvedReference
type FileMetadata = store.FileMetadata
type SymbolType = store.SymbolType
type ReferenceType = store.ReferenceType
type StoreStatistics = store.Statistics

const (
	SymbolFunction  = store.SymbolFunction
	SymbolMethod    = store.SymbolMethod
	SymbolClass     = store.SymbolClass
	SymbolStruct    = store.SymbolStruct
	SymbolEnum      = store.SymbolEnum
	SymbolInterface = store.SymbolInterface
	SymbolModule    = store.SymbolModule
	SymbolImport    = store.SymbolImport
)

const (
	RefCall     = store.RefCall
	RefUsage    = store.RefUsage
	RefImport   = store.RefImport
	RefInherits = store.RefInherits
)
