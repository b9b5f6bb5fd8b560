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
	"strings"
)

// Input carries everything a matcher may consume. Values is the
// normalized observed-value list; SuggestedValues and MatchData are
// optional depending on the match type.
type Input struct {
	// Values are the observed values, already list-wrapped and
	// flattened one level (see Normalize).
	Values []any

	// SuggestedValues are the instrument's known suggested-response
	// values, for the suggested/custom match family. Nil is treated as
	// an empty set.
	SuggestedValues []any

	// MatchData is the raw comparison operand; nil when the case
	// declares none.
	MatchData *string
}

func (in Input) matchData() (string, error) {
	if in.MatchData == nil {
		return "", ErrMissingMatchData
	}
	return *in.MatchData, nil
}

// Func is a single match-type predicate.
type Func func(in Input) (bool, error)

// registry maps canonical (underscore) match type names to their
// implementations. This is a closed map; consumers extend it through
// Register, never by mutation.
var registry = map[string]Func{
	"any":           Any,
	"none":          None,
	"all_suggested": AllSuggested,
	"one_suggested": OneSuggested,
	"all_custom":    AllCustom,
	"one_custom":    OneCustom,
	"match":         Match,
	"mismatch":      Mismatch,
	"contains":      Contains,
	"not_contains":  NotContains,
	"greater_than":  GreaterThan,
	"less_than":     LessThan,
	"one":           One,
	"zero":          Zero,
}

// Canonical normalizes a match type name to its underscore spelling.
func Canonical(matchType string) string {
	return strings.ReplaceAll(matchType, "-", "_")
}

// Resolve returns the matcher for a match type name. Hyphenated
// spellings ("all-suggested") normalize to their canonical underscore
// form. An unregistered name yields *UnknownMatchTypeError.
func Resolve(matchType string) (Func, error) {
	fn, ok := registry[Canonical(matchType)]
	if !ok {
		return nil, &UnknownMatchTypeError{Name: matchType, Known: sortedNames(registry)}
	}
	return fn, nil
}

// Register installs a custom matcher under the given name. It is the
// documented extension point for consumers adding match types; it
// refuses to shadow a built-in.
func Register(name string, fn Func) error {
	canonical := Canonical(name)
	if _, exists := registry[canonical]; exists {
		return fmt.Errorf("match type %q is already registered", canonical)
	}
	registry[canonical] = fn
	return nil
}

// TestCase routes a match type to its predicate, normalizing the
// observed values first. It is the single entry point the condition
// tree uses.
func TestCase(values any, matchType string, matchData *string, suggestedValues []any) (bool, error) {
	fn, err := Resolve(matchType)
	if err != nil {
		return false, err
	}
	return fn(Input{
		Values:          Normalize(values),
		SuggestedValues: suggestedValues,
		MatchData:       matchData,
	})
}

// Any passes when at least one observed value is truthy.
func Any(in Input) (bool, error) {
	return anyTruthy(in.Values), nil
}

// None passes when no observed value is truthy.
func None(in Input) (bool, error) {
	return !anyTruthy(in.Values), nil
}

// AllSuggested passes when values are non-empty and every value is a
// member of the suggested set.
func AllSuggested(in Input) (bool, error) {
	if len(in.Values) == 0 {
		return false, nil
	}
	suggested := keySet(in.SuggestedValues)
	for _, v := range in.Values {
		if !setContains(suggested, v) {
			return false, nil
		}
	}
	return true, nil
}

// OneSuggested passes when at least one value is a member of the
// suggested set.
func OneSuggested(in Input) (bool, error) {
	suggested := keySet(in.SuggestedValues)
	for _, v := range in.Values {
		if setContains(suggested, v) {
			return true, nil
		}
	}
	return false, nil
}

// AllCustom passes when values are non-empty and no value overlaps the
// suggested set.
func AllCustom(in Input) (bool, error) {
	if len(in.Values) == 0 {
		return false, nil
	}
	suggested := keySet(in.SuggestedValues)
	for _, v := range in.Values {
		if setContains(suggested, v) {
			return false, nil
		}
	}
	return true, nil
}

// OneCustom passes when at least one value is outside the suggested
// set.
func OneCustom(in Input) (bool, error) {
	suggested := keySet(in.SuggestedValues)
	for _, v := range in.Values {
		if !setContains(suggested, v) {
			return true, nil
		}
	}
	return false, nil
}

// Match passes when the set of observed values equals the set of
// match_data values, order-insensitive, both sides list-wrapped and
// type-coerced toward the observed values.
func Match(in Input) (bool, error) {
	md, err := in.matchData()
	if err != nil {
		return false, err
	}
	coerced, err := Coerce(md, in.Values)
	if err != nil {
		return false, err
	}
	return setEqual(keySet(in.Values), keySet(Wrap(coerced))), nil
}

// Mismatch is the strict negation of Match.
func Mismatch(in Input) (bool, error) {
	ok, err := Match(in)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Contains passes when any observed value, treated as a container,
// holds the coerced match_data: substring membership for strings, set
// membership for lists, equality for other scalars.
func Contains(in Input) (bool, error) {
	md, err := in.matchData()
	if err != nil {
		return false, err
	}
	for _, v := range in.Values {
		held, err := containsOne(md, v)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

func containsOne(matchData string, v any) (bool, error) {
	coerced, err := Coerce(matchData, v)
	if err != nil {
		return false, err
	}
	if s, ok := v.(string); ok {
		needle, ok := coerced.(string)
		if !ok {
			needle = fmt.Sprintf("%v", coerced)
		}
		return strings.Contains(s, needle), nil
	}
	if isList(v) {
		return setContains(keySet(Wrap(v)), coerced), nil
	}
	return valueKey(v) == valueKey(coerced), nil
}

// NotContains is the strict negation of Contains.
func NotContains(in Input) (bool, error) {
	ok, err := Contains(in)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// GreaterThan passes when any observed value compares greater than any
// type-coerced element of match_data.
func GreaterThan(in Input) (bool, error) {
	return compareAny(in, func(cmp int) bool { return cmp > 0 })
}

// LessThan passes when any observed value compares less than any
// type-coerced element of match_data.
func LessThan(in Input) (bool, error) {
	return compareAny(in, func(cmp int) bool { return cmp < 0 })
}

func compareAny(in Input, accept func(cmp int) bool) (bool, error) {
	md, err := in.matchData()
	if err != nil {
		return false, err
	}
	operands := Wrap(ParseLiteral(md))
	for _, v := range in.Values {
		for _, m := range operands {
			if kindOf(m) != kindOf(v) {
				cast, err := castTo(m, kindOf(v))
				if err != nil {
					return false, &CoercionError{MatchData: md, Parsed: m, Value: v, Err: err}
				}
				m = cast
			}
			cmp, err := compareValues(v, m)
			if err != nil {
				return false, &CoercionError{MatchData: md, Parsed: m, Value: v, Err: err}
			}
			if accept(cmp) {
				return true, nil
			}
		}
	}
	return false, nil
}

func compareValues(a, b any) (int, error) {
	af, aNum := asFloat64(a)
	bf, bNum := asFloat64(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}

// One parses match_data as a literal collection (a bare scalar is
// wrapped) and passes when any observed value is a member. Collection
// elements are coerced toward each observed value's type where a cast
// exists; an uncastable element simply fails to match that value.
func One(in Input) (bool, error) {
	md, err := in.matchData()
	if err != nil {
		return false, err
	}
	members := Wrap(ParseLiteral(md))
	for _, v := range in.Values {
		for _, m := range members {
			if kindOf(m) != kindOf(v) {
				cast, err := castTo(m, kindOf(v))
				if err != nil {
					continue
				}
				m = cast
			}
			if valueKey(m) == valueKey(v) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Zero is the strict negation of One.
func Zero(in Input) (bool, error) {
	ok, err := One(in)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
