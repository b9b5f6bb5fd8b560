// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matchers

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLiteral interprets a match_data string as a typed literal:
// integers, floats, booleans (Python or JSON spelling), None/null,
// quoted strings, and bracketed collections ("[a, b]" or "(a, b)") of
// the same. Text that parses as none of these stays a string, mirroring
// the lenient fallthrough the stored rules were authored against.
func ParseLiteral(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	if isBracketed(trimmed) {
		items := splitTopLevel(trimmed[1 : len(trimmed)-1])
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, ParseLiteral(item))
		}
		return out
	}
	return parseScalar(trimmed)
}

func isBracketed(s string) bool {
	return (strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")) ||
		(strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"))
}

func parseScalar(s string) any {
	switch s {
	case "True", "true":
		return true
	case "False", "false":
		return false
	case "None", "null":
		return nil
	}
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// splitTopLevel splits a bracketed collection body on commas that are
// outside quotes and nested brackets.
func splitTopLevel(body string) []string {
	var items []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			items = append(items, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	last := strings.TrimSpace(body[start:])
	if last != "" || len(items) > 0 {
		items = append(items, last)
	}
	return items
}

// Coerce reconciles a raw match_data string with an observed value's
// type. The parsed literal is returned unchanged when its kind already
// matches the value, or when the value is itself a list (with the
// parsed list's elements additionally coerced to the observed list's
// homogeneous element kind, when one is determinable). Otherwise a
// final cast into the value's kind is attempted; failure yields a
// *CoercionError rather than a silent false.
func Coerce(matchData string, value any) (any, error) {
	parsed := ParseLiteral(matchData)

	pk, vk := kindOf(parsed), kindOf(value)
	if vk == kindList {
		if parsedList, ok := parsed.([]any); ok {
			if ek, ok := homogeneousKind(Wrap(value)); ok {
				return coerceElements(matchData, parsedList, ek)
			}
		}
		return parsed, nil
	}
	if pk == vk {
		return parsed, nil
	}

	cast, err := castTo(parsed, vk)
	if err != nil {
		return nil, &CoercionError{MatchData: matchData, Parsed: parsed, Value: value, Err: err}
	}
	return cast, nil
}

// homogeneousKind returns the shared kind of a list's elements, if all
// elements agree (integers and floats count as one numeric population
// only when identical kinds).
func homogeneousKind(values []any) (kind, bool) {
	if len(values) == 0 {
		return kindNil, false
	}
	k := kindOf(values[0])
	for _, v := range values[1:] {
		if kindOf(v) != k {
			return kindNil, false
		}
	}
	return k, true
}

func coerceElements(matchData string, parsed []any, target kind) ([]any, error) {
	out := make([]any, len(parsed))
	for i, p := range parsed {
		if kindOf(p) == target {
			out[i] = p
			continue
		}
		cast, err := castTo(p, target)
		if err != nil {
			return nil, &CoercionError{MatchData: matchData, Parsed: p, Value: parsed, Err: err}
		}
		out[i] = cast
	}
	return out, nil
}

func castTo(v any, target kind) (any, error) {
	switch target {
	case kindString:
		return fmt.Sprintf("%v", v), nil
	case kindInt:
		switch t := v.(type) {
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, err
			}
			return i, nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			if f, ok := asFloat64(v); ok {
				return int64(f), nil
			}
		}
	case kindFloat:
		switch t := v.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		default:
			if f, ok := asFloat64(v); ok {
				return f, nil
			}
		}
	case kindBool:
		return Truthy(v), nil
	}
	return nil, fmt.Errorf("no conversion from %T to target kind %d", v, target)
}
