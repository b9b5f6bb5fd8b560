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
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Wrap normalizes a value into a []any: a bare scalar becomes a
// one-element list, strings and maps are wrapped (never iterated), and
// slice/array inputs of any element type are coerced to []any.
func Wrap(data any) []any {
	if data == nil {
		return []any{nil}
	}
	switch v := data.(type) {
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out
	case string:
		return []any{v}
	}
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []any{data}
	}
}

// Normalize is the canonical pre-match shaping of observed values:
// list-wrap, then flatten one level so that the stored list of a
// multiple=true answer contributes its elements rather than the list
// itself. Only one level is flattened.
func Normalize(values any) []any {
	wrapped := Wrap(values)
	flat := make([]any, 0, len(wrapped))
	for _, v := range wrapped {
		if isList(v) {
			flat = append(flat, Wrap(v)...)
			continue
		}
		flat = append(flat, v)
	}
	return flat
}

// Truthy reports whether a value counts as "an answer was given":
// false for nil, empty strings, zero numbers, false booleans and empty
// collections.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

func anyTruthy(values []any) bool {
	for _, v := range values {
		if Truthy(v) {
			return true
		}
	}
	return false
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(string); ok {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// kind buckets values for coercion decisions. Integers and floats are
// distinct kinds, mirroring the distinction the stored match data keeps
// between "5" and "5.0".
type kind int

const (
	kindNil kind = iota
	kindString
	kindBool
	kindInt
	kindFloat
	kindList
	kindMap
	kindOther
)

func kindOf(v any) kind {
	if v == nil {
		return kindNil
	}
	switch v.(type) {
	case string:
		return kindString
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32, float64:
		return kindFloat
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return kindList
	case reflect.Map:
		return kindMap
	}
	return kindOther
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// valueKey produces a normalized membership/equality key. Numeric
// values that represent the same number share a key regardless of
// integer/float representation, matching the equality the original
// data model relied on (1 == 1.0).
func valueKey(v any) string {
	switch kindOf(v) {
	case kindNil:
		return "z:"
	case kindString:
		return "s:" + v.(string)
	case kindBool:
		if v.(bool) {
			return "b:1"
		}
		return "b:0"
	case kindInt:
		i, _ := asInt64(v)
		return "n:" + strconv.FormatInt(i, 10)
	case kindFloat:
		f, _ := asFloat64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return "n:" + strconv.FormatInt(int64(f), 10)
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	case kindList:
		parts := make([]string, 0)
		for _, e := range Wrap(v) {
			parts = append(parts, valueKey(e))
		}
		return "l:[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("o:%T:%v", v, v)
	}
}

func keySet(values []any) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[valueKey(v)] = struct{}{}
	}
	return set
}

func setContains(set map[string]struct{}, v any) bool {
	_, ok := set[valueKey(v)]
	return ok
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
