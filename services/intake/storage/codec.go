// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes a record for persistence.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes a persisted record, keeping numbers inside untyped
// answer data as json.Number so callers can rebuild them losslessly
// via NormalizeValue. A stored 13 must never come back as 13.0.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("storage: decode %T: %w", v, err)
	}
	return nil
}

// NormalizeValue rewrites json.Number leaves (and their containers) to
// int64/float64. Exposed so transport layers that bind untyped JSON
// can apply the same number policy before data reaches the matchers.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i, item := range t {
			t[i] = NormalizeValue(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = NormalizeValue(item)
		}
		return t
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	}
	return v
}
