// Package entity parses database object definitions out of .sql source files.
package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the type of database object a file defines.
type Kind int

const (
	// Unknown marks content with no recognizable CREATE header.
	Unknown Kind = iota
	// Function is a scalar or table-valued function.
	Function
	// Procedure is a stored procedure.
	Procedure
	// View is a view.
	View
	// CustomType is a user-defined type.
	CustomType
)

// String returns the DDL keyword for the kind.
func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Procedure:
		return "procedure"
	case View:
		return "view"
	case CustomType:
		return "type"
	default:
		return "unknown"
	}
}

// Entity is one database object sourced from one file.
type Entity struct {
	// Path is the source file and the unique key of the entity.
	Path string
	// Name is the object name without schema or brackets.
	Name string
	Kind Kind
	// SchemaBound is set when the definition declares schemabinding
	// or the object is a user-defined type.
	SchemaBound bool
	// Content is the definition after variable substitution.
	Content string
	// Words is the lower-cased token set used for dependency detection.
	// It is nil once released.
	Words map[string]struct{}
}

type header struct {
	kind Kind
	re   *regexp.Regexp
}

// headers are tried in order; the first match decides kind and name.
var headers = []header{
	{Function, headerRegex(`function`)},
	{View, headerRegex(`view`)},
	{Procedure, headerRegex(`proc(?:edure)?`)},
	{CustomType, headerRegex(`type`)},
}

func headerRegex(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)\bcreate\s+(?:or\s+(?:alter|replace)\s+)?` + keyword +
		`\s+(?:\[?\w+\]?\.)?\[?([\w-]+)\]?`)
}

var schemaBindingRegex = regexp.MustCompile(`(?i)\bschemabinding\b`)

// Parse builds an Entity from raw file content. Variables are substituted
// before anything else. Content without a recognizable CREATE header yields
// an entity of kind Unknown with an empty name.
func Parse(path, raw string, vars map[string]string) *Entity {
	content := Substitute(raw, vars)
	e := &Entity{
		Path:    path,
		Content: content,
	}

	for _, h := range headers {
		m := h.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		e.Kind = h.kind
		e.Name = m[1]
		break
	}
	if e.Kind == Unknown {
		return e
	}

	e.SchemaBound = e.Kind == CustomType || schemaBindingRegex.MatchString(content)
	e.Words = Tokenize(content)
	return e
}

// Key returns the case-insensitive lookup key for an object name.
func Key(name string) string {
	return strings.ToLower(name)
}

// Key returns the case-insensitive lookup key for the entity's name.
func (e *Entity) Key() string {
	return Key(e.Name)
}

// Mentions reports whether the entity's definition references name as a token.
// When the token set has been released it is recomputed from Content.
func (e *Entity) Mentions(name string) bool {
	words := e.Words
	if words == nil {
		words = Tokenize(e.Content)
	}
	_, ok := words[Key(name)]
	return ok
}

// ReleaseWords drops the token set once the graph no longer needs it.
func (e *Entity) ReleaseWords() {
	e.Words = nil
}

// DropStatement renders the statement that removes the object.
func (e *Entity) DropStatement(schema string) string {
	return fmt.Sprintf("DROP %s %s.%s", strings.ToUpper(e.Kind.String()), schema, e.Name)
}

func (e *Entity) String() string {
	return e.Kind.String() + " " + e.Name
}
