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
	"errors"
	"testing"
)

func str(s string) *string { return &s }

func mustTest(t *testing.T, values any, matchType string, matchData *string, suggested []any) bool {
	t.Helper()
	got, err := TestCase(values, matchType, matchData, suggested)
	if err != nil {
		t.Fatalf("TestCase(%v, %s): %v", values, matchType, err)
	}
	return got
}

func TestAnyNone(t *testing.T) {
	tests := []struct {
		name    string
		values  any
		wantAny bool
	}{
		{"nil value", nil, false},
		{"empty string", "", false},
		{"non-empty string", "a", true},
		{"zero", int64(0), false},
		{"number", int64(3), true},
		{"empty list", []any{}, false},
		{"list with empty string", []any{""}, false},
		{"list with value", []any{"", "x"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustTest(t, tc.values, "any", nil, nil); got != tc.wantAny {
				t.Errorf("any(%v) = %v, want %v", tc.values, got, tc.wantAny)
			}
			if got := mustTest(t, tc.values, "none", nil, nil); got != !tc.wantAny {
				t.Errorf("none(%v) = %v, want %v", tc.values, got, !tc.wantAny)
			}
		})
	}
}

func TestScalarListEquivalence(t *testing.T) {
	// Wrapping a bare scalar in a one-element list must not change any
	// matcher's result.
	suggested := []any{"a", "b"}
	md := str("a")
	for _, matchType := range []string{
		"any", "none", "all_suggested", "one_suggested", "all_custom",
		"one_custom", "match", "mismatch", "contains", "not_contains",
	} {
		scalar := mustTest(t, "a", matchType, md, suggested)
		list := mustTest(t, []any{"a"}, matchType, md, suggested)
		if scalar != list {
			t.Errorf("%s: scalar=%v list=%v, want equal", matchType, scalar, list)
		}
	}
}

func TestSuggestedCustomFamily(t *testing.T) {
	suggested := []any{"a", "b"}
	tests := []struct {
		matchType string
		values    any
		want      bool
	}{
		{"all_suggested", []any{"a", "b"}, true},
		{"all_suggested", []any{"a", "x"}, false},
		{"all_suggested", []any{}, false},
		{"one_suggested", []any{"x", "b"}, true},
		{"one_suggested", []any{"x", "y"}, false},
		{"one_suggested", []any{}, false},
		{"all_custom", []any{"x", "y"}, true},
		{"all_custom", []any{"x", "a"}, false},
		{"all_custom", []any{}, false},
		{"one_custom", []any{"a", "y"}, true},
		{"one_custom", []any{"a", "b"}, false},
	}
	for _, tc := range tests {
		got := mustTest(t, tc.values, tc.matchType, nil, suggested)
		if got != tc.want {
			t.Errorf("%s(%v) = %v, want %v", tc.matchType, tc.values, got, tc.want)
		}
	}
}

func TestMatchCoercion(t *testing.T) {
	tests := []struct {
		name      string
		values    any
		matchData string
		want      bool
	}{
		{"int value vs string data", []any{int64(1)}, `["1"]`, true},
		{"string value vs int data", []any{"1"}, `[1]`, true},
		{"float value vs string data", []any{13.0}, `["13.0"]`, true},
		{"scalar data", []any{int64(5)}, `5`, true},
		{"order insensitive", []any{"b", "a"}, `['a', 'b']`, true},
		{"differing sets", []any{"a"}, `['a', 'b']`, false},
		{"plain mismatch", []any{"a"}, `b`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mustTest(t, tc.values, "match", str(tc.matchData), nil)
			if got != tc.want {
				t.Errorf("match(%v, %q) = %v, want %v", tc.values, tc.matchData, got, tc.want)
			}
			// mismatch is always the strict negation
			neg := mustTest(t, tc.values, "mismatch", str(tc.matchData), nil)
			if neg != !tc.want {
				t.Errorf("mismatch(%v, %q) = %v, want %v", tc.values, tc.matchData, neg, !tc.want)
			}
		})
	}
}

func TestMatchIrreconcilableRaises(t *testing.T) {
	// int-valued observations cannot reconcile with a non-numeric
	// match_data element; this must raise, not return false.
	_, err := TestCase([]any{int64(5)}, "match", str(`["abc"]`), nil)
	var coercion *CoercionError
	if !errors.As(err, &coercion) {
		t.Fatalf("match(5, [abc]) error = %v, want *CoercionError", err)
	}
	if coercion.MatchData != `["abc"]` {
		t.Errorf("CoercionError.MatchData = %q, want %q", coercion.MatchData, `["abc"]`)
	}

	_, err = TestCase([]any{int64(5)}, "contains", str("abc"), nil)
	if !errors.As(err, &coercion) {
		t.Fatalf("contains(5, abc) error = %v, want *CoercionError", err)
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name      string
		values    any
		matchData string
		want      bool
	}{
		{"substring hit", "xfoox", "foo", true},
		{"substring miss", "bar", "foo", false},
		{"flattened answer list", []any{[]any{"a", "b"}, []any{"c"}}, "b", true},
		{"inner list membership", []any{[]any{[]any{"a", "b"}}}, "b", true},
		{"scalar equality", []any{int64(5)}, "5", true},
		{"scalar inequality", []any{int64(5)}, "6", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mustTest(t, tc.values, "contains", str(tc.matchData), nil)
			if got != tc.want {
				t.Errorf("contains(%v, %q) = %v, want %v", tc.values, tc.matchData, got, tc.want)
			}
			neg := mustTest(t, tc.values, "not_contains", str(tc.matchData), nil)
			if neg != !tc.want {
				t.Errorf("not_contains(%v, %q) = %v, want %v", tc.values, tc.matchData, neg, !tc.want)
			}
		})
	}
}

func TestOrderingMatchers(t *testing.T) {
	tests := []struct {
		matchType string
		values    any
		matchData string
		want      bool
	}{
		{"greater_than", []any{int64(7)}, "5", true},
		{"greater_than", []any{int64(3)}, "5", false},
		{"greater_than", []any{"3"}, "5", false},
		{"greater_than", []any{int64(3), int64(9)}, "[5, 8]", true},
		{"less_than", []any{int64(3)}, "5", true},
		{"less_than", []any{int64(7)}, "5", false},
		{"less_than", []any{13.5}, "13.6", true},
	}
	for _, tc := range tests {
		got := mustTest(t, tc.values, tc.matchType, str(tc.matchData), nil)
		if got != tc.want {
			t.Errorf("%s(%v, %q) = %v, want %v", tc.matchType, tc.values, tc.matchData, got, tc.want)
		}
	}
}

func TestOneZero(t *testing.T) {
	tests := []struct {
		values    any
		matchData string
		want      bool
	}{
		{[]any{"b"}, `['a', 'b']`, true},
		{[]any{"z"}, `['a', 'b']`, false},
		{[]any{int64(2)}, `[1, 2, 3]`, true},
		{[]any{int64(2)}, `["1", "2"]`, true},
		{[]any{"b"}, `b`, true},
	}
	for _, tc := range tests {
		got := mustTest(t, tc.values, "one", str(tc.matchData), nil)
		if got != tc.want {
			t.Errorf("one(%v, %q) = %v, want %v", tc.values, tc.matchData, got, tc.want)
		}
		neg := mustTest(t, tc.values, "zero", str(tc.matchData), nil)
		if neg != !tc.want {
			t.Errorf("zero(%v, %q) = %v, want %v", tc.values, tc.matchData, neg, !tc.want)
		}
	}
}

func TestNestedListsFlattenOneLevel(t *testing.T) {
	// A multiple=true answer arrives as a list inside the value list.
	got := mustTest(t, []any{[]any{"a", "b"}}, "all_suggested", nil, []any{"a", "b"})
	if !got {
		t.Error("all_suggested over a nested answer list should flatten and pass")
	}
}

func TestHyphenatedNamesResolve(t *testing.T) {
	for _, name := range []string{"all-suggested", "one-suggested", "all-custom", "one-custom", "not-contains"} {
		if _, err := Resolve(name); err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
		}
	}
}

func TestUnknownMatchType(t *testing.T) {
	_, err := TestCase([]any{"a"}, "sideways", nil, nil)
	var unknown *UnknownMatchTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownMatchTypeError", err)
	}
	if unknown.Name != "sideways" {
		t.Errorf("UnknownMatchTypeError.Name = %q, want %q", unknown.Name, "sideways")
	}
	if len(unknown.Known) == 0 {
		t.Error("UnknownMatchTypeError.Known is empty, want registry names")
	}
}

func TestMissingMatchData(t *testing.T) {
	for _, matchType := range []string{"match", "mismatch", "contains", "not_contains", "greater_than", "less_than", "one", "zero"} {
		_, err := TestCase([]any{"a"}, matchType, nil, nil)
		if !errors.Is(err, ErrMissingMatchData) {
			t.Errorf("%s without match_data: error = %v, want ErrMissingMatchData", matchType, err)
		}
	}
}
