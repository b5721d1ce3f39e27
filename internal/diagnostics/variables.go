// Package diagnostics reports problems in the project that never block the
// change pipeline: undefined variables, reference cycles and names defined
// more than once.
package diagnostics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sqlwatch/sqlwatch/internal/entity"
	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

// MaxOccurrences is how many entities are listed per undefined variable.
const MaxOccurrences = 5

// Occurrence locates one use of an undefined variable.
type Occurrence struct {
	Path    string `json:"path" yaml:"path"`
	Entity  string `json:"entity" yaml:"entity"`
	Line    int    `json:"line" yaml:"line"`
	Snippet string `json:"snippet" yaml:"snippet"`
}

// UndefinedVariable groups the uses of one variable nobody defined.
type UndefinedVariable struct {
	Name string `json:"name" yaml:"name"`
	// Total counts every occurrence, including entities not listed.
	Total       int          `json:"total" yaml:"total"`
	Occurrences []Occurrence `json:"occurrences" yaml:"occurrences"`
}

// UndefinedVariables finds $(name) references that survived substitution.
// Variables are reported in the order they are first seen.
func UndefinedVariables(entities []*entity.Entity) []UndefinedVariable {
	var (
		out   []UndefinedVariable
		index = make(map[string]int)
	)
	for _, e := range entities {
		seen := make(map[string]bool)
		for _, name := range entity.Variables(e.Content) {
			i, ok := index[name]
			if !ok {
				i = len(out)
				index[name] = i
				out = append(out, UndefinedVariable{Name: name})
			}
			v := &out[i]
			v.Total++

			if seen[name] || len(v.Occurrences) >= MaxOccurrences {
				continue
			}
			seen[name] = true
			line, snippet := locate(e.Content, name)
			v.Occurrences = append(v.Occurrences, Occurrence{
				Path:    e.Path,
				Entity:  e.Name,
				Line:    line,
				Snippet: snippet,
			})
		}
	}
	return out
}

// locate returns the 1-based line of the first use of name and that line
// trimmed.
func locate(content, name string) (int, string) {
	token := "$(" + name + ")"
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.Contains(line, token) {
			return i + 1, strings.TrimSpace(line)
		}
	}
	return 0, ""
}

// RenderUndefined writes one warning block per variable.
func RenderUndefined(w io.Writer, vars []UndefinedVariable) {
	for _, v := range vars {
		fmt.Fprintf(w, "%s: variable %s is undefined and is used %d times\n",
			ui.RenderFail("warning"), ui.RenderWarn(v.Name), v.Total)
		for _, o := range v.Occurrences {
			fmt.Fprintf(w, "\tin file %s (entity %s) at line %d:\n", ui.RenderAccent(o.Path), o.Entity, o.Line)
			token := "$(" + v.Name + ")"
			fmt.Fprintf(w, "\t\t%s\n", strings.Replace(o.Snippet, token, ui.RenderFail(token), 1))
		}
		fmt.Fprintln(w)
	}
}

// RenderCycles writes one line per reference cycle.
func RenderCycles(w io.Writer, cycles []graph.Cycle) {
	for _, c := range cycles {
		fmt.Fprintf(w, "%s: reference cycle %s\n", ui.RenderWarn("warning"), c)
	}
}

// RenderDuplicates writes the names defined by more than one file.
func RenderDuplicates(w io.Writer, dups map[string][]string) {
	names := make([]string, 0, len(dups))
	for name := range dups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s is defined in %d files\n", ui.RenderWarn("warning"), ui.RenderBold(name), len(dups[name]))
		for _, p := range dups[name] {
			fmt.Fprintf(w, "\t%s\n", p)
		}
	}
}
