package runtime

import (
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// QueryKind selects which structural query to run against a tree.
type QueryKind string

const (
	// Definitions captures @name plus one @definition.<kind> (or @scope for
	// containers that qualify names without being symbols). Go methods and
	// scopes also capture @receiver.
	Definitions QueryKind = "definitions"
	// References captures @name plus one @reference.<kind>.
	References QueryKind = "references"
)

// Capture name prefixes understood by the extractor.
const (
	CaptureName       = "name"
	CaptureReceiver   = "receiver"
	CaptureScope      = "scope"
	CaptureDefinition = "definition."
	CaptureReference  = "reference."
)

var callQueriesJS = `
(call_expression function: (identifier) @name) @reference.call
(call_expression function: (member_expression property: (property_identifier) @name)) @reference.call
(new_expression constructor: (identifier) @name) @reference.call
(import_statement source: (string) @name) @reference.import
(call_expression
  function: (identifier) @_fn
  arguments: (arguments (string) @name)
  (#eq? @_fn "require")) @reference.import
`

var tsDefinitions = `
(function_declaration name: (identifier) @name) @definition.function
(generator_function_declaration name: (identifier) @name) @definition.function
(class_declaration name: (type_identifier) @name) @definition.class
(abstract_class_declaration name: (type_identifier) @name) @definition.class
(interface_declaration name: (type_identifier) @name) @definition.interface
(enum_declaration name: (identifier) @name) @definition.enum
(internal_module name: (identifier) @name) @definition.module
(method_definition name: (property_identifier) @name) @definition.method
(method_signature name: (property_identifier) @name) @definition.method
(abstract_method_signature name: (property_identifier) @name) @definition.method
(variable_declarator name: (identifier) @name value: (arrow_function)) @definition.function
`

var tsReferences = callQueriesJS + `
(extends_clause (identifier) @name) @reference.inherits
(implements_clause (type_identifier) @name) @reference.inherits
(type_identifier) @name @reference.usage
`

// querySources holds the query text per language and kind.
var querySources = map[Language]map[QueryKind]string{
	Go: {
		Definitions: `
(function_declaration name: (identifier) @name) @definition.function
(method_declaration
  receiver: (parameter_list
    (parameter_declaration
      type: [
        (type_identifier) @receiver
        (pointer_type (type_identifier) @receiver)
        (generic_type (type_identifier) @receiver)
        (pointer_type (generic_type (type_identifier) @receiver))
      ]))
  name: (field_identifier) @name) @definition.method
(type_spec name: (type_identifier) @name type: (struct_type)) @definition.struct
(type_spec name: (type_identifier) @name type: (interface_type)) @definition.interface
`,
		References: `
(call_expression function: (identifier) @name) @reference.call
(call_expression function: (selector_expression field: (field_identifier) @name)) @reference.call
(import_spec path: (interpreted_string_literal) @name) @reference.import
(field_declaration !name type: (type_identifier) @name) @reference.inherits
(type_identifier) @name @reference.usage
`,
	},
	Python: {
		Definitions: `
(class_definition name: (identifier) @name) @definition.class
(function_definition name: (identifier) @name) @definition.function
`,
		References: `
(call function: (identifier) @name) @reference.call
(call function: (attribute attribute: (identifier) @name)) @reference.call
(class_definition superclasses: (argument_list (identifier) @name)) @reference.inherits
(class_definition superclasses: (argument_list (attribute attribute: (identifier) @name))) @reference.inherits
(import_statement name: (dotted_name) @name) @reference.import
(import_statement name: (aliased_import name: (dotted_name) @name)) @reference.import
(import_from_statement module_name: (dotted_name) @name) @reference.import
(import_from_statement name: (dotted_name) @name) @reference.import
(type (identifier) @name) @reference.usage
`,
	},
	JavaScript: {
		Definitions: `
(function_declaration name: (identifier) @name) @definition.function
(generator_function_declaration name: (identifier) @name) @definition.function
(class_declaration name: (identifier) @name) @definition.class
(method_definition name: (property_identifier) @name) @definition.method
(variable_declarator name: (identifier) @name value: (arrow_function)) @definition.function
`,
		References: callQueriesJS + `
(class_heritage (identifier) @name) @reference.inherits
(class_heritage (member_expression property: (property_identifier) @name)) @reference.inherits
`,
	},
	TypeScript: {
		Definitions: tsDefinitions,
		References:  tsReferences,
	},
	TSX: {
		Definitions: tsDefinitions,
		References:  tsReferences,
	},
	Rust: {
		Definitions: `
(function_item name: (identifier) @name) @definition.function
(function_signature_item name: (identifier) @name) @definition.function
(struct_item name: (type_identifier) @name) @definition.struct
(enum_item name: (type_identifier) @name) @definition.enum
(trait_item name: (type_identifier) @name) @definition.interface
(mod_item name: (identifier) @name) @definition.module
(impl_item type: (type_identifier) @receiver) @scope
(impl_item type: (generic_type type: (type_identifier) @receiver)) @scope
`,
		References: `
(call_expression function: (identifier) @name) @reference.call
(call_expression function: (field_expression field: (field_identifier) @name)) @reference.call
(call_expression function: (scoped_identifier name: (identifier) @name)) @reference.call
(impl_item trait: (type_identifier) @name) @reference.inherits
(use_declaration argument: (scoped_identifier name: (identifier) @name)) @reference.import
(use_declaration argument: (identifier) @name) @reference.import
(type_identifier) @name @reference.usage
`,
	},
	Java: {
		Definitions: `
(class_declaration name: (identifier) @name) @definition.class
(interface_declaration name: (identifier) @name) @definition.interface
(enum_declaration name: (identifier) @name) @definition.enum
(method_declaration name: (identifier) @name) @definition.method
(constructor_declaration name: (identifier) @name) @definition.method
`,
		References: `
(method_invocation name: (identifier) @name) @reference.call
(object_creation_expression type: (type_identifier) @name) @reference.call
(superclass (type_identifier) @name) @reference.inherits
(super_interfaces (type_list (type_identifier) @name)) @reference.inherits
(extends_interfaces (type_list (type_identifier) @name)) @reference.inherits
(import_declaration (scoped_identifier name: (identifier) @name)) @reference.import
(type_identifier) @name @reference.usage
`,
	},
	CPP: {
		Definitions: `
(function_definition declarator: (function_declarator declarator: (identifier) @name)) @definition.function
(function_definition declarator: (function_declarator declarator: (field_identifier) @name)) @definition.method
(function_definition
  declarator: (function_declarator
    declarator: (qualified_identifier
      scope: (namespace_identifier) @receiver
      name: (identifier) @name))) @definition.method
(class_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.class
(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @definition.struct
(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @definition.enum
(namespace_definition name: (namespace_identifier) @name) @definition.module
`,
		References: `
(call_expression function: (identifier) @name) @reference.call
(call_expression function: (field_expression field: (field_identifier) @name)) @reference.call
(call_expression function: (qualified_identifier name: (identifier) @name)) @reference.call
(base_class_clause (type_identifier) @name) @reference.inherits
(preproc_include path: (string_literal) @name) @reference.import
(preproc_include path: (system_lib_string) @name) @reference.import
(type_identifier) @name @reference.usage
`,
	},
	CSharp: {
		Definitions: `
(class_declaration name: (identifier) @name) @definition.class
(struct_declaration name: (identifier) @name) @definition.struct
(interface_declaration name: (identifier) @name) @definition.interface
(enum_declaration name: (identifier) @name) @definition.enum
(method_declaration name: (identifier) @name) @definition.method
(constructor_declaration name: (identifier) @name) @definition.method
(namespace_declaration name: [(identifier) (qualified_name)] @name) @definition.module
`,
		References: `
(invocation_expression function: (identifier) @name) @reference.call
(invocation_expression function: (member_access_expression name: (identifier) @name)) @reference.call
(object_creation_expression type: (identifier) @name) @reference.call
(base_list (identifier) @name) @reference.inherits
(using_directive (identifier) @name) @reference.import
(using_directive (qualified_name) @name) @reference.import
`,
	},
}

type queryKey struct {
	lang Language
	kind QueryKind
}

type compiledQuery struct {
	q   *sitter.Query
	err error
}

// queryCache compiles each (language, kind) query at most once for the
// life of the process. Compile errors are cached too.
var queryCache = struct {
	mu      sync.Mutex
	entries map[queryKey]compiledQuery
}{entries: make(map[queryKey]compiledQuery)}

// QuerySource returns the raw query text for a language and kind.
func QuerySource(lang Language, kind QueryKind) (string, bool) {
	byKind, ok := querySources[lang]
	if !ok {
		return "", false
	}
	src, ok := byKind[kind]
	return src, ok
}

// Query returns the compiled query for lang and kind. The returned query is
// shared and must not be closed by callers.
func Query(lang Language, kind QueryKind) (*sitter.Query, error) {
	key := queryKey{lang, kind}

	queryCache.mu.Lock()
	defer queryCache.mu.Unlock()
	if c, ok := queryCache.entries[key]; ok {
		return c.q, c.err
	}

	var c compiledQuery
	grammar, ok := Grammar(lang)
	src, hasSrc := QuerySource(lang, kind)
	switch {
	case !ok:
		c.err = fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	case !hasSrc:
		c.err = fmt.Errorf("%w: no %s query for %s", ErrQuery, kind, lang)
	default:
		q, err := sitter.NewQuery([]byte(src), grammar)
		if err != nil {
			c.err = fmt.Errorf("%w: %s %s: %v", ErrQuery, lang, kind, err)
		} else {
			c.q = q
		}
	}
	queryCache.entries[key] = c
	return c.q, c.err
}
