package entity

import (
	"regexp"
	"strings"
)

// delimiters split a line into identifier-like tokens.
const delimiters = "[]()\t +.!;,-'<>%=$\r\"*/&|^~:{}"

// stopWords are SQL keywords and builtins that never name a project object.
var stopWords = toSet(
	"create", "as", "dbo", "end", "begin", "from", "int", "select",
	"procedure", "where", "on", "varchar", "join", "and", "return",
	"declare", "set", "null", "function", "returns", "nolock", "readonly",
	"max", "insert", "into", "if", "is", "not", "or", "table", "bit", "in",
	"nocount", "exists", "inner", "left", "else", "by", "values", "when",
	"update", "then", "top", "case", "order", "datetime2", "throw",
	"datetime", "delete", "distinct", "exec", "type", "view", "fetch",
	"like", "cast", "rowlock", "next", "scope_identity", "offset", "rows",
	"uniqueidentifier", "group", "output", "isnull", "asc", "desc", "with",
	"only", "nvarchar", "count", "getdate", "go", "convert", "inserted",
	"while", "datediff", "schemabinding", "proc", "using", "decimal",
	"row_number", "over", "matched", "union", "cursor", "open", "iif",
	"references", "object_id", "to", "min", "target", "source", "index",
	"outer", "apply", "alter", "replace",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Tokenize extracts the case-insensitive set of identifier-like tokens used
// for dependency detection. Single-line comments are stripped; block comments
// are not.
func Tokenize(content string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, line := range strings.Split(content, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return strings.ContainsRune(delimiters, r)
		})
		for _, f := range fields {
			if skipToken(f) {
				continue
			}
			w := strings.ToLower(f)
			if _, stop := stopWords[w]; stop {
				continue
			}
			words[w] = struct{}{}
		}
	}
	return words
}

func skipToken(tok string) bool {
	if tok == "" || tok[0] == '@' {
		return true
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var variableRegex = regexp.MustCompile(`\$\(([^)]*)\)`)

// Substitute replaces every $(key) whose key is present in vars. A key
// with no exact match falls back to its lower-case form, which is how keys
// read from the config file arrive. Unknown keys are left in place so they
// can be reported later.
func Substitute(raw string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(raw, "$(") {
		return raw
	}
	return variableRegex.ReplaceAllStringFunc(raw, func(m string) string {
		key := m[2 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		if v, ok := vars[strings.ToLower(key)]; ok {
			return v
		}
		return m
	})
}

// Variables returns every $(name) reference in content, in order of appearance.
func Variables(content string) []string {
	var names []string
	for _, m := range variableRegex.FindAllStringSubmatch(content, -1) {
		names = append(names, m[1])
	}
	return names
}
