// Package typemap derives the federation type ownership of a single service
// from its SDL.
//
// For every type definition or type extension in the document the analyzer
// records which fields the service declares (TypeMap), which of the fields of
// an extension the service resolves itself (ExtensionTypeMap) and which types
// the service is authoritative for (Types).
package typemap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wundergraph/graphql-go-tools/v2/pkg/ast"
	"github.com/wundergraph/graphql-go-tools/v2/pkg/astparser"
)

const (
	ExtendsDirectiveName  = "extends"
	ExternalDirectiveName = "external"
)

var ErrParse = errors.New("parse service sdl")

// FieldSet is a set of field names.
type FieldSet map[string]struct{}

func NewFieldSet(names ...string) FieldSet {
	set := make(FieldSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the field names in lexical order.
func (s FieldSet) Names() []string {
	return sortedKeys(s)
}

// TypeSet is a set of type names.
type TypeSet map[string]struct{}

func NewTypeSet(names ...string) TypeSet {
	set := make(TypeSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s TypeSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s TypeSet) Names() []string {
	return sortedKeys(s)
}

// Result is the type ownership of one service.
type Result struct {
	TypeMap          map[string]FieldSet
	Types            TypeSet
	ExtensionTypeMap map[string]FieldSet
}

// Definition describes a type definition or type extension as seen by a
// FirstClassPredicate.
type Definition struct {
	Name string
	Kind ast.NodeKind
	// Extension is true for syntactic extensions and for definitions
	// carrying the @extends directive.
	Extension  bool
	Directives []string
}

func (d Definition) HasDirective(name string) bool {
	for _, directive := range d.Directives {
		if directive == name {
			return true
		}
	}
	return false
}

// FirstClassPredicate reports whether a definition is a federation first
// class definition. Matching definitions are treated as extensions and the
// service is recorded as authoritative for them.
type FirstClassPredicate func(definition Definition) bool

// DefaultFirstClassPredicate matches extensions of the root operation types.
func DefaultFirstClassPredicate(definition Definition) bool {
	return definition.Extension && isRootOperationTypeName(definition.Name)
}

type Option func(a *analyzer)

// WithFirstClassPredicate replaces DefaultFirstClassPredicate.
func WithFirstClassPredicate(predicate FirstClassPredicate) Option {
	return func(a *analyzer) {
		if predicate != nil {
			a.isFirstClass = predicate
		}
	}
}

// Analyze parses sdl and derives the type ownership of the service.
func Analyze(sdl string, options ...Option) (*Result, error) {
	a := &analyzer{
		isFirstClass: DefaultFirstClassPredicate,
	}
	for _, option := range options {
		option(a)
	}

	document, report := astparser.ParseGraphqlDocumentString(sdl)
	if report.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrParse, report.Error())
	}

	return a.analyze(&document), nil
}

type analyzer struct {
	isFirstClass FirstClassPredicate
}

// typeNode is the part of a type definition or extension the analyzer needs.
type typeNode struct {
	kind       ast.NodeKind
	name       ast.ByteSliceReference
	extension  bool
	directives []int
	fields     []field
}

type field struct {
	name       string
	directives []int
}

func (a *analyzer) analyze(document *ast.Document) *Result {
	result := &Result{
		TypeMap:          make(map[string]FieldSet),
		Types:            make(TypeSet),
		ExtensionTypeMap: make(map[string]FieldSet),
	}

	for _, node := range document.RootNodes {
		typ, ok := typeNodeOf(document, node)
		if !ok {
			continue
		}

		definition := Definition{
			Name:       document.Input.ByteSliceString(typ.name),
			Kind:       typ.kind,
			Directives: directiveNames(document, typ.directives),
		}
		definition.Extension = typ.extension || definition.HasDirective(ExtendsDirectiveName)

		firstClass := a.isFirstClass(definition)
		fields := fieldSet(document, typ.fields, false)

		if !definition.Extension && !firstClass {
			result.TypeMap[definition.Name] = fields
			result.Types[definition.Name] = struct{}{}
			continue
		}

		// last definition wins, extensions of the same type are not merged
		result.TypeMap[definition.Name] = fields
		result.ExtensionTypeMap[definition.Name] = fieldSet(document, typ.fields, true)
		if firstClass {
			result.Types[definition.Name] = struct{}{}
		}
	}

	return result
}

func typeNodeOf(document *ast.Document, node ast.Node) (typeNode, bool) {
	ref := node.Ref
	switch node.Kind {
	case ast.NodeKindObjectTypeDefinition:
		def := document.ObjectTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs, fields: fieldDefinitions(document, def.FieldsDefinition.Refs)}, true
	case ast.NodeKindObjectTypeExtension:
		def := document.ObjectTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs, fields: fieldDefinitions(document, def.FieldsDefinition.Refs)}, true
	case ast.NodeKindInterfaceTypeDefinition:
		def := document.InterfaceTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs, fields: fieldDefinitions(document, def.FieldsDefinition.Refs)}, true
	case ast.NodeKindInterfaceTypeExtension:
		def := document.InterfaceTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs, fields: fieldDefinitions(document, def.FieldsDefinition.Refs)}, true
	case ast.NodeKindInputObjectTypeDefinition:
		def := document.InputObjectTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs, fields: inputValueDefinitions(document, def.InputFieldsDefinition.Refs)}, true
	case ast.NodeKindInputObjectTypeExtension:
		def := document.InputObjectTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs, fields: inputValueDefinitions(document, def.InputFieldsDefinition.Refs)}, true
	case ast.NodeKindEnumTypeDefinition:
		def := document.EnumTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs}, true
	case ast.NodeKindEnumTypeExtension:
		def := document.EnumTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs}, true
	case ast.NodeKindUnionTypeDefinition:
		def := document.UnionTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs}, true
	case ast.NodeKindUnionTypeExtension:
		def := document.UnionTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs}, true
	case ast.NodeKindScalarTypeDefinition:
		def := document.ScalarTypeDefinitions[ref]
		return typeNode{kind: node.Kind, name: def.Name, directives: def.Directives.Refs}, true
	case ast.NodeKindScalarTypeExtension:
		def := document.ScalarTypeExtensions[ref]
		return typeNode{kind: node.Kind, name: def.Name, extension: true, directives: def.Directives.Refs}, true
	default:
		return typeNode{}, false
	}
}

func fieldDefinitions(document *ast.Document, refs []int) []field {
	fields := make([]field, 0, len(refs))
	for _, ref := range refs {
		fields = append(fields, field{
			name:       document.FieldDefinitionNameString(ref),
			directives: document.FieldDefinitions[ref].Directives.Refs,
		})
	}
	return fields
}

func inputValueDefinitions(document *ast.Document, refs []int) []field {
	fields := make([]field, 0, len(refs))
	for _, ref := range refs {
		fields = append(fields, field{
			name:       document.Input.ByteSliceString(document.InputValueDefinitions[ref].Name),
			directives: document.InputValueDefinitions[ref].Directives.Refs,
		})
	}
	return fields
}

func fieldSet(document *ast.Document, fields []field, skipExternal bool) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		if skipExternal && hasDirective(document, f.directives, ExternalDirectiveName) {
			continue
		}
		set[f.name] = struct{}{}
	}
	return set
}

func directiveNames(document *ast.Document, refs []int) []string {
	if len(refs) == 0 {
		return nil
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, document.DirectiveNameString(ref))
	}
	return names
}

func hasDirective(document *ast.Document, refs []int, name string) bool {
	for _, ref := range refs {
		if document.DirectiveNameString(ref) == name {
			return true
		}
	}
	return false
}

func isRootOperationTypeName(name string) bool {
	switch name {
	case "Query", "Mutation", "Subscription":
		return true
	default:
		return false
	}
}

func sortedKeys[T ~map[string]struct{}](set T) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
