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
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel all missing-record errors unwrap to.
var ErrNotFound = errors.New("storage: not found")

// NotFoundError identifies which record a lookup missed.
type NotFoundError struct {
	// Kind is the record type, e.g. "instrument".
	Kind string

	// Key is the identifier that missed.
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("storage: %s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
