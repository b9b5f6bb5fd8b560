// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matchers implements the match-type predicates used by
// condition cases: pure functions from a set of observed values (plus
// optional suggested values and comparison data) to a boolean.
//
// Matchers never swallow a type mismatch: when match_data cannot be
// reconciled with an observed value's type they return a
// *CoercionError instead of false, so "failed to evaluate" stays
// distinguishable from "did not match".
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use. Register is not;
// call it during startup only.
package matchers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingMatchData is returned when a matcher that compares against
// match_data (match, contains, greater_than, ...) is invoked without it.
var ErrMissingMatchData = errors.New("match_data is required for this match type")

// UnknownMatchTypeError is returned by Resolve for a match type name
// with no registered matcher. It identifies the invalid name and the
// registry contents so configuration tooling can render the failure
// distinctly from a value-level validation problem.
type UnknownMatchTypeError struct {
	// Name is the unresolvable match type, as given.
	Name string

	// Known lists the registered match type names.
	Known []string
}

// Error implements the error interface.
func (e *UnknownMatchTypeError) Error() string {
	return fmt.Sprintf("unknown match type %q; known match types: %s",
		e.Name, strings.Join(e.Known, ", "))
}

// CoercionError is returned when match_data cannot be converted to the
// observed value's type. It carries both raw values, both types and the
// underlying cast failure.
type CoercionError struct {
	// MatchData is the raw match_data string.
	MatchData string

	// Parsed is the literal-parsed form of MatchData.
	Parsed any

	// Value is the observed value the conversion targeted.
	Value any

	// Err is the underlying cast error, if any.
	Err error
}

// Error implements the error interface.
func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("cannot convert match_data %q (parsed %v, %T) to incoming %v (%T)",
		e.MatchData, e.Parsed, e.Parsed, e.Value, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cast error for errors.Is/As support.
func (e *CoercionError) Unwrap() error {
	return e.Err
}

func sortedNames(m map[string]Func) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
