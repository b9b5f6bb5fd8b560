// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"fmt"
	"strconv"
	"strings"
)

// InputMethod couples an instrument type with the cleaner that coerces
// submitted values into storage shape. Cleaner failures are low-level;
// the collector translates them into ValidationErrors carrying the
// instrument and value.
type InputMethod struct {
	// Name labels the method in specification documents.
	Name string

	// Clean coerces one submitted value.
	Clean func(value any) (any, error)

	// ErrorMessage is the caller-facing text used when Clean fails.
	ErrorMessage string
}

// DefaultMethod passes values through untouched.
func DefaultMethod() *InputMethod {
	return &InputMethod{
		Name:  "default",
		Clean: func(v any) (any, error) { return v, nil },
	}
}

// CharMethod renders any value as its string form.
func CharMethod() *InputMethod {
	return &InputMethod{
		Name: "char",
		Clean: func(v any) (any, error) {
			if s, ok := v.(string); ok {
				return s, nil
			}
			return fmt.Sprintf("%v", v), nil
		},
	}
}

// IntegerMethod coerces to int64, truncating floats and parsing
// integer strings.
func IntegerMethod() *InputMethod {
	return &InputMethod{
		Name:         "integer",
		ErrorMessage: "Please enter a valid integer.",
		Clean: func(v any) (any, error) {
			switch t := v.(type) {
			case int64:
				return t, nil
			case int:
				return int64(t), nil
			case float64:
				return int64(t), nil
			case bool:
				if t {
					return int64(1), nil
				}
				return int64(0), nil
			case string:
				i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
				if err != nil {
					return nil, err
				}
				return i, nil
			}
			return nil, fmt.Errorf("cannot coerce %T to integer", v)
		},
	}
}

// FloatMethod coerces to float64, parsing numeric strings.
func FloatMethod() *InputMethod {
	return &InputMethod{
		Name:         "float",
		ErrorMessage: "Please enter a valid float.",
		Clean: func(v any) (any, error) {
			switch t := v.(type) {
			case float64:
				return t, nil
			case int64:
				return float64(t), nil
			case int:
				return float64(t), nil
			case string:
				f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
				if err != nil {
					return nil, err
				}
				return f, nil
			}
			return nil, fmt.Errorf("cannot coerce %T to float", v)
		},
	}
}
