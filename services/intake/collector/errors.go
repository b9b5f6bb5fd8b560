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
)

// Limit identifies which capacity ceiling blocked a submission.
type Limit string

const (
	// LimitPerUser is the per-user input ceiling on the request.
	LimitPerUser Limit = "per-user"

	// LimitTotal is the all-users input ceiling on the request.
	LimitTotal Limit = "total"
)

// ValidationError is a recoverable, caller-facing rejection of a
// submitted value: wrong multiplicity, a value outside the suggested
// set, a failed type coercion, or an unresolvable payload reference.
type ValidationError struct {
	// InstrumentID is the offending instrument, empty when the payload
	// never resolved to one.
	InstrumentID string

	// Value is the submitted data that was rejected.
	Value any

	// Msg describes the rejection.
	Msg string

	// Err is the underlying failure, if any.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collector: instrument %s: %s (value %v): %v",
			e.InstrumentID, e.Msg, e.Value, e.Err)
	}
	return fmt.Sprintf("collector: instrument %s: %s (value %v)", e.InstrumentID, e.Msg, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AvailabilityError is a permission-style rejection: the instrument is
// gated closed by its conditions, or a capacity ceiling was reached.
type AvailabilityError struct {
	// InstrumentID is the gated instrument.
	InstrumentID string

	// UserID is the context that was checked, empty for anonymous.
	UserID string

	// Limit is set when a capacity ceiling was hit, empty when the
	// conditions gate rejected.
	Limit Limit

	// Max is the ceiling value, meaningful only with Limit.
	Max int
}

func (e *AvailabilityError) Error() string {
	if e.Limit != "" {
		return fmt.Sprintf("collector: instrument %s: %s input limit of %d reached (user %q)",
			e.InstrumentID, e.Limit, e.Max, e.UserID)
	}
	return fmt.Sprintf("collector: instrument %s is not available (user %q)",
		e.InstrumentID, e.UserID)
}

// UnknownCollectorError reports a registry lookup for an identifier
// nothing registered.
type UnknownCollectorError struct {
	Identifier string
}

func (e *UnknownCollectorError) Error() string {
	return fmt.Sprintf("collector: no collector registered under %q", e.Identifier)
}
