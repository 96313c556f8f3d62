// Package addresstemplate renders a target's address template against a
// signal's resolver context. Grammar: METHOD:path?query#fragment, where
// path, query and fragment may each contain {{prefix:name}} placeholders,
// optionally wrapped in a single-argument function call like
// {{upper(header:device-id)}}.
package addresstemplate

import (
	"fmt"
	"strings"

	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
)

// Rendered is the result of expanding a template: the HTTP method plus the
// rendered path/query/fragment components.
type Rendered struct {
	Method   string
	Path     string
	Query    string
	Fragment string
}

// Render expands an address template of the form
// "METHOD:path?query#fragment" against a ResolverContext.
func Render(template string, ctx model.ResolverContext) (Rendered, error) {
	method, rest, ok := strings.Cut(template, ":")
	if !ok {
		return Rendered{}, ditterr.ConfigInvalid(fmt.Sprintf("address template %q is missing a METHOD: prefix", template), nil)
	}

	path, rest := cutFragment(rest)
	path, query := cutQuery(path, rest)

	renderedPath, err := expand(path, ctx)
	if err != nil {
		return Rendered{}, err
	}
	renderedQuery, err := expand(query.query, ctx)
	if err != nil {
		return Rendered{}, err
	}
	renderedFragment, err := expand(query.fragment, ctx)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Method:   strings.ToUpper(method),
		Path:     renderedPath,
		Query:    renderedQuery,
		Fragment: renderedFragment,
	}, nil
}

type splitResult struct {
	query    string
	fragment string
}

// cutFragment splits "path?query#fragment" into path-and-query, fragment.
func cutFragment(s string) (string, string) {
	if before, after, ok := strings.Cut(s, "#"); ok {
		return before, after
	}
	return s, ""
}

func cutQuery(pathAndQuery, fragment string) (string, splitResult) {
	if before, after, ok := strings.Cut(pathAndQuery, "?"); ok {
		return before, splitResult{query: after, fragment: fragment}
	}
	return pathAndQuery, splitResult{fragment: fragment}
}

// expand replaces every {{...}} placeholder in s, applying at most one
// wrapping function call per placeholder.
func expand(s string, ctx model.ResolverContext) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return "", ditterr.ConfigInvalid(fmt.Sprintf("unterminated placeholder in %q", s), nil)
		}
		end += start

		b.WriteString(s[:start])
		expr := s[start+2 : end]
		value, err := evalPlaceholder(expr, ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(value)

		s = s[end+2:]
	}
	return b.String(), nil
}

// evalPlaceholder evaluates one {{...}} body: either "prefix:name" or a
// single-argument function call like "upper(prefix:name)".
func evalPlaceholder(expr string, ctx model.ResolverContext) (string, error) {
	expr = strings.TrimSpace(expr)

	if openParen := strings.Index(expr, "("); openParen != -1 {
		if !strings.HasSuffix(expr, ")") {
			return "", ditterr.PlaceholderUnresolved(fmt.Sprintf("malformed placeholder function %q", expr), nil)
		}
		fn := expr[:openParen]
		arg := expr[openParen+1 : len(expr)-1]
		return evalFunction(fn, arg, ctx)
	}

	return resolveRef(expr, ctx)
}

func evalFunction(fn, arg string, ctx model.ResolverContext) (string, error) {
	switch fn {
	case "upper":
		args := splitArgs(arg)
		if len(args) != 1 {
			return "", ditterr.PlaceholderFunctionSignatureInvalid(
				fmt.Sprintf("upper() requires exactly one argument, got %d", len(args)), nil)
		}
		value, err := resolveArg(args[0], ctx)
		if err != nil {
			return "", err
		}
		return strings.ToUpper(value), nil
	default:
		return "", ditterr.PlaceholderUnresolved(fmt.Sprintf("unknown placeholder function %q", fn), nil)
	}
}

// splitArgs splits a function argument list on top-level commas. Quoted
// string literals are not split on internal commas.
func splitArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var args []string
	inQuote := false
	start := 0
	for i, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			args = append(args, strings.TrimSpace(raw[start:i]))
			start = i + 1
		}
	}
	args = append(args, strings.TrimSpace(raw[start:]))
	return args
}

// resolveArg resolves a function argument: either a quoted string literal
// or a prefix:name ResolverContext reference.
func resolveArg(arg string, ctx model.ResolverContext) (string, error) {
	if len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"' {
		return arg[1 : len(arg)-1], nil
	}
	return resolveRef(arg, ctx)
}

func resolveRef(ref string, ctx model.ResolverContext) (string, error) {
	prefix, name, ok := strings.Cut(ref, ":")
	if !ok {
		return "", ditterr.PlaceholderUnresolved(fmt.Sprintf("placeholder %q is missing a prefix:name separator", ref), nil)
	}
	value, ok := ctx.Lookup(strings.TrimSpace(prefix), strings.TrimSpace(name))
	if !ok {
		return "", ditterr.PlaceholderUnresolved(fmt.Sprintf("placeholder %q could not be resolved", ref), nil)
	}
	return value, nil
}
