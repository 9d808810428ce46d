package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	run := func(sdl string, expected *Result, options ...Option) func(t *testing.T) {
		return func(t *testing.T) {
			actual, err := Analyze(sdl, options...)
			require.NoError(t, err)
			assert.Equal(t, expected, actual)
		}
	}

	t.Run("base definition", run(`
		type Query {
			add(x: Int, y: Int): Int
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"Query": NewFieldSet("add")},
			Types:            NewTypeSet("Query"),
			ExtensionTypeMap: map[string]FieldSet{},
		},
	))

	t.Run("extension excludes external fields", run(`
		extend type Query {
			age: Int @external
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"Query": NewFieldSet("age")},
			Types:            NewTypeSet("Query"),
			ExtensionTypeMap: map[string]FieldSet{"Query": NewFieldSet()},
		},
	))

	t.Run("entity extension is not authoritative", run(`
		extend type User @key(fields: "id") {
			id: ID! @external
			reviews: [Review]
		}
		type Review {
			body: String
			author: User
		}`,
		&Result{
			TypeMap: map[string]FieldSet{
				"User":   NewFieldSet("id", "reviews"),
				"Review": NewFieldSet("body", "author"),
			},
			Types:            NewTypeSet("Review"),
			ExtensionTypeMap: map[string]FieldSet{"User": NewFieldSet("reviews")},
		},
	))

	t.Run("extends directive marks an extension", run(`
		type Product @extends @key(fields: "upc") {
			upc: String! @external
			inStock: Boolean
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"Product": NewFieldSet("upc", "inStock")},
			Types:            NewTypeSet(),
			ExtensionTypeMap: map[string]FieldSet{"Product": NewFieldSet("inStock")},
		},
	))

	t.Run("last definition of a name wins", run(`
		type Query {
			me: User
		}
		extend type Query {
			topProducts: [Product]
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"Query": NewFieldSet("topProducts")},
			Types:            NewTypeSet("Query"),
			ExtensionTypeMap: map[string]FieldSet{"Query": NewFieldSet("topProducts")},
		},
	))

	t.Run("fieldless and input definitions", run(`
		scalar DateTime
		enum Color { RED GREEN }
		union Media = Book | Movie
		input Filter {
			name: String
			tags: [String]
		}
		interface Node {
			id: ID!
		}`,
		&Result{
			TypeMap: map[string]FieldSet{
				"DateTime": NewFieldSet(),
				"Color":    NewFieldSet(),
				"Media":    NewFieldSet(),
				"Filter":   NewFieldSet("name", "tags"),
				"Node":     NewFieldSet("id"),
			},
			Types:            NewTypeSet("DateTime", "Color", "Media", "Filter", "Node"),
			ExtensionTypeMap: map[string]FieldSet{},
		},
	))

	t.Run("non type definitions are ignored", run(`
		schema { query: Query }
		directive @custom on FIELD_DEFINITION
		type Query {
			hello: String @custom
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"Query": NewFieldSet("hello")},
			Types:            NewTypeSet("Query"),
			ExtensionTypeMap: map[string]FieldSet{},
		},
	))

	t.Run("injected predicate", run(`
		type User @key(fields: "id") {
			id: ID!
			name: String @external
		}`,
		&Result{
			TypeMap:          map[string]FieldSet{"User": NewFieldSet("id", "name")},
			Types:            NewTypeSet("User"),
			ExtensionTypeMap: map[string]FieldSet{"User": NewFieldSet("id")},
		},
		WithFirstClassPredicate(func(definition Definition) bool {
			return definition.HasDirective("key")
		}),
	))

	t.Run("predicate sees definition details", func(t *testing.T) {
		var seen []Definition
		_, err := Analyze(`
			type Query { a: Int }
			extend type Mutation @auth { b: Int }`,
			WithFirstClassPredicate(func(definition Definition) bool {
				seen = append(seen, definition)
				return false
			}),
		)
		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, "Query", seen[0].Name)
		assert.False(t, seen[0].Extension)
		assert.Equal(t, "Mutation", seen[1].Name)
		assert.True(t, seen[1].Extension)
		assert.Equal(t, []string{"auth"}, seen[1].Directives)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := Analyze(`type Query {`)
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("deterministic", func(t *testing.T) {
		sdl := `
			extend type Query { reviews: [Review] }
			type Review { id: ID! body: String }
			extend type User @key(fields: "id") { id: ID! @external reviews: [Review] }`

		first, err := Analyze(sdl)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			next, err := Analyze(sdl)
			require.NoError(t, err)
			assert.Equal(t, first, next)
		}
	})
}

func TestFieldSet_Names(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NewFieldSet("c", "a", "b").Names())
	assert.Equal(t, []string{}, NewFieldSet().Names())
	assert.True(t, NewTypeSet("Query").Has("Query"))
	assert.False(t, NewTypeSet("Query").Has("Mutation"))
}
