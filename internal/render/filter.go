package render

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/joeblew999/plat-parcels/internal/filter"
)

var ErrInvalidFilter = errors.New("invalid layer filter")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// translate turns a layer filter expression into expr-lang source.
//
// Supported forms:
//
//	["all", e...]  ["any", e...]  ["!", e]
//	["in", ["get", attr], ["literal", [v...]]]
//	["==", ["get", attr], v]  ["!=", ["get", attr], v]
//	["boolean", b]  true  false
func translate(e any) (string, error) {
	switch t := e.(type) {
	case bool:
		return strconv.FormatBool(t), nil
	case filter.Expression:
		return translate([]any(t))
	case []any:
		return translateCall(t)
	}
	return "", fmt.Errorf("%w: unexpected %T", ErrInvalidFilter, e)
}

func translateCall(call []any) (string, error) {
	if len(call) == 0 {
		return "", fmt.Errorf("%w: empty expression", ErrInvalidFilter)
	}
	op, ok := call[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: operator must be a string", ErrInvalidFilter)
	}
	args := call[1:]

	switch op {
	case "all", "any":
		if len(args) == 0 {
			return strconv.FormatBool(op == "all"), nil
		}
		joiner := " && "
		if op == "any" {
			joiner = " || "
		}
		parts := make([]string, len(args))
		for i, a := range args {
			s, err := translate(a)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		return strings.Join(parts, joiner), nil

	case "!":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: ! takes one argument", ErrInvalidFilter)
		}
		s, err := translate(args[0])
		if err != nil {
			return "", err
		}
		return "!(" + s + ")", nil

	case "boolean":
		if len(args) == 0 {
			return "", fmt.Errorf("%w: boolean takes a value", ErrInvalidFilter)
		}
		b, ok := args[0].(bool)
		if !ok {
			return "", fmt.Errorf("%w: boolean value must be true or false", ErrInvalidFilter)
		}
		return strconv.FormatBool(b), nil

	case "in":
		if len(args) != 2 {
			return "", fmt.Errorf("%w: in takes two arguments", ErrInvalidFilter)
		}
		attr, err := getter(args[0])
		if err != nil {
			return "", err
		}
		list, kind, err := literalList(args[1])
		if err != nil {
			return "", err
		}
		if kind == "" {
			return attr + " in " + list, nil
		}
		// A value of another type is not a member.
		return "type(" + attr + ") == " + strconv.Quote(kind) + " && (" + attr + " in " + list + ")", nil

	case "==", "!=":
		if len(args) != 2 {
			return "", fmt.Errorf("%w: %s takes two arguments", ErrInvalidFilter, op)
		}
		attr, err := getter(args[0])
		if err != nil {
			return "", err
		}
		v, err := literal(args[1])
		if err != nil {
			return "", err
		}
		return attr + " " + op + " " + v, nil
	}
	return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, op)
}

func getter(e any) (string, error) {
	call, ok := e.([]any)
	if !ok || len(call) != 2 || call[0] != "get" {
		return "", fmt.Errorf("%w: expected [\"get\", attribute]", ErrInvalidFilter)
	}
	name, ok := call[1].(string)
	if !ok || !identifier.MatchString(name) {
		return "", fmt.Errorf("%w: bad attribute name %v", ErrInvalidFilter, call[1])
	}
	return name, nil
}

// literalList renders a literal list and reports its expr type name when
// every value shares one ("string" or "bool"), or "" for mixed lists.
func literalList(e any) (string, string, error) {
	call, ok := e.([]any)
	if !ok || len(call) != 2 || call[0] != "literal" {
		return "", "", fmt.Errorf("%w: expected [\"literal\", [values]]", ErrInvalidFilter)
	}
	values, ok := call[1].([]any)
	if !ok {
		return "", "", fmt.Errorf("%w: literal must wrap a list", ErrInvalidFilter)
	}
	parts := make([]string, len(values))
	kind := ""
	for i, v := range values {
		s, err := literal(v)
		if err != nil {
			return "", "", err
		}
		parts[i] = s

		k := ""
		switch v.(type) {
		case string:
			k = "string"
		case bool:
			k = "bool"
		}
		switch {
		case i == 0:
			kind = k
		case kind != k:
			kind = ""
		}
	}
	return "[" + strings.Join(parts, ", ") + "]", kind, nil
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	}
	return "", fmt.Errorf("%w: unsupported literal %T", ErrInvalidFilter, v)
}

func compileFilter(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return prog, nil
}

func evalFilter(prog *vm.Program, props map[string]any) (bool, error) {
	if props == nil {
		props = map[string]any{}
	}
	out, err := expr.Run(prog, props)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}
