// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collection defines the plain data model for input collection:
// collection requests, instruments, response policies, suggested
// responses and collected inputs.
//
// Everything here is passive data shared by the matcher, condition,
// collector, storage and specification packages. The structs carry both
// json and yaml tags so the same shapes serve the specification
// document, the storage encoding and the schema seed files.
//
// # Thread Safety
//
// Instruments, policies and suggested responses are read-mostly
// configuration. They must not be mutated concurrently with an
// evaluation that reads them; the isolation helpers (IsolatePolicy)
// clone before mutating so callers can swap references instead of
// editing shared rows in place.
package collection

import (
	"time"

	"github.com/google/uuid"
)

// Requirement types for combining condition or case results.
const (
	RequirementAllPass = "all-pass"
	RequirementOnePass = "one-pass"
	RequirementAllFail = "all-fail"
)

// Measure is a deployed question's underlying identity, independent of
// phrasing or session. Its ID is a stable external key.
type Measure struct {
	ID string `json:"id" yaml:"id"`
}

// CollectionGroup is a canonical grouping label instruments relate to
// for business-logic purposes (used for both segment and group axes).
type CollectionGroup struct {
	ID string `json:"id" yaml:"id"`
}

// InstrumentType names a category of instrument ("char", "integer",
// "float", ...). The collector's cleaner dispatch keys off this.
type InstrumentType struct {
	ID string `json:"id" yaml:"id"`
}

// CollectionRequest is one session calling for a set of instruments to
// be answered.
//
// The two limits apply independently; both must pass for a new input to
// be accepted (see the collector's capacity policy). A nil limit means
// unlimited.
type CollectionRequest struct {
	ID string `json:"id" yaml:"id"`

	// MaxInstrumentInputsPerUser caps inputs per user per instrument.
	MaxInstrumentInputsPerUser *int `json:"max_instrument_inputs_per_user" yaml:"max_instrument_inputs_per_user"`

	// MaxInstrumentInputs caps inputs per instrument across all users.
	MaxInstrumentInputs *int `json:"max_instrument_inputs" yaml:"max_instrument_inputs"`

	DateCreated  time.Time `json:"date_created" yaml:"-"`
	DateModified time.Time `json:"date_modified" yaml:"-"`
}

// Flags returns the request's capacity limits keyed by their canonical
// flag names.
func (r *CollectionRequest) Flags() map[string]*int {
	return map[string]*int{
		"max_instrument_inputs_per_user": r.MaxInstrumentInputsPerUser,
		"max_instrument_inputs":          r.MaxInstrumentInputs,
	}
}

// ResponsePolicy holds the flags governing an instrument's answer shape.
//
// Instruments may share a policy row; IsolatePolicy clones a shared
// policy so one instrument's flags can diverge safely.
type ResponsePolicy struct {
	ID       string `json:"id" yaml:"id"`
	Nickname string `json:"nickname" yaml:"nickname"`

	// IsSingleton marks a policy that belongs to exactly one instrument
	// and may therefore be edited in place.
	IsSingleton bool `json:"is_singleton" yaml:"is_singleton"`

	// Restrict requires every answer to match a suggested response.
	Restrict bool `json:"restrict" yaml:"restrict"`

	// Multiple allows a list of answers; when false a list input is a
	// validation error regardless of its length.
	Multiple bool `json:"multiple" yaml:"multiple"`

	// Required is a validation hint for consumers.
	Required bool `json:"required" yaml:"required"`
}

// Flags returns the policy flags keyed by their canonical names.
func (p *ResponsePolicy) Flags() map[string]bool {
	return map[string]bool{
		"restrict": p.Restrict,
		"multiple": p.Multiple,
		"required": p.Required,
	}
}

// Clone returns a deep copy of the policy under a fresh ID, marked as a
// singleton. Used to isolate a shared policy before specializing it for
// a single instrument (copy-on-write; swap the instrument's reference
// after editing the clone).
func (p *ResponsePolicy) Clone() *ResponsePolicy {
	clone := *p
	clone.ID = uuid.NewString()
	clone.Nickname = ""
	clone.IsSingleton = true
	return &clone
}

// SuggestedResponse is a pre-identified valid answer value.
type SuggestedResponse struct {
	ID   string `json:"id" yaml:"id"`
	Data any    `json:"data" yaml:"data"`
}

// BoundSuggestedResponse is the membership record binding a
// SuggestedResponse to one instrument, optionally carrying per-binding
// flags (e.g. "comment_required") for consumers.
type BoundSuggestedResponse struct {
	ID                  string         `json:"id" yaml:"id"`
	InstrumentID        string         `json:"instrument" yaml:"instrument"`
	SuggestedResponseID string         `json:"suggested_response_id" yaml:"suggested_response_id"`
	Data                any            `json:"data" yaml:"data"`
	Flags               map[string]any `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// Instrument is the presentation of a Measure scoped to one collection
// request: its phrasing, ordering, response policy and gating rules.
type Instrument struct {
	ID                  string `json:"id" yaml:"id"`
	CollectionRequestID string `json:"collection_request" yaml:"collection_request"`

	// MeasureID is the stable external identifier, distinct from ID.
	MeasureID string `json:"measure" yaml:"measure"`

	SegmentID string `json:"segment" yaml:"segment"`
	GroupID   string `json:"group" yaml:"group"`
	TypeID    string `json:"type" yaml:"type"`

	Order int `json:"order" yaml:"order"`

	Text        string `json:"text" yaml:"text"`
	Description string `json:"description" yaml:"description"`
	Help        string `json:"help" yaml:"help"`

	ResponsePolicy *ResponsePolicy `json:"response_policy" yaml:"response_policy"`

	// TestRequirementType controls how this instrument's multiple
	// Conditions combine: all-pass (default), one-pass or all-fail.
	TestRequirementType string `json:"test_requirement_type" yaml:"test_requirement_type"`
}

// IsolatePolicy replaces a shared response policy with a private clone
// and returns it, so the caller can specialize flags for this
// instrument without affecting the other instruments pointing at the
// original row. Already-singleton policies are returned as-is.
func (i *Instrument) IsolatePolicy() *ResponsePolicy {
	if i.ResponsePolicy == nil {
		i.ResponsePolicy = &ResponsePolicy{ID: uuid.NewString(), IsSingleton: true}
		return i.ResponsePolicy
	}
	if i.ResponsePolicy.IsSingleton {
		return i.ResponsePolicy
	}
	i.ResponsePolicy = i.ResponsePolicy.Clone()
	return i.ResponsePolicy
}

// CollectedInput is a single stored answer for an instrument.
//
// Data reflects the instrument's response policy: when Multiple is
// false it is never a list; when Multiple is true it is always a list.
type CollectedInput struct {
	ID                  string `json:"id"`
	CollectionRequestID string `json:"collection_request"`
	InstrumentID        string `json:"instrument"`

	// UserID is empty for anonymous submissions.
	UserID string `json:"user"`

	Data any `json:"data"`

	// Provenance.
	Version        string `json:"version"`
	CollectorClass string `json:"collector_class"`

	DateCreated  time.Time `json:"date_created"`
	DateModified time.Time `json:"date_modified"`
}

// Context scopes storage queries to a caller: which user's inputs to
// see, and whether to narrow to the most recent input per instrument
// per user (the "latest-only" query contract the capacity policy and
// resolvers rely on).
type Context struct {
	// UserID filters inputs to one user. Empty means no user filter
	// (anonymous callers and the per-session capacity check).
	UserID string `json:"user,omitempty"`

	// LatestOnly narrows to the single most recent input per
	// instrument per user.
	LatestOnly bool `json:"latest_only,omitempty"`
}

// WithoutUser returns a copy of the context with the user dimension
// removed, used by the per-session capacity check.
func (c Context) WithoutUser() Context {
	c.UserID = ""
	return c
}

// Anonymous reports whether the context has no identified user.
func (c Context) Anonymous() bool {
	return c.UserID == ""
}
