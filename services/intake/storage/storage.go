// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence surface the collector runtime
// and specification assembler depend on. Implementations live in
// subpackages; the badger subpackage is the embedded default.
package storage

import (
	"context"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
)

// Store is the persistence contract for one deployment.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCollectionRequest creates or replaces a collection request.
	SaveCollectionRequest(ctx context.Context, req *collection.CollectionRequest) error

	// CollectionRequest fetches a request by id. Missing ids yield
	// ErrNotFound.
	CollectionRequest(ctx context.Context, id string) (*collection.CollectionRequest, error)

	// SaveInstrument creates or replaces an instrument under its
	// collection request.
	SaveInstrument(ctx context.Context, inst *collection.Instrument) error

	// Instrument fetches one instrument by id within a request.
	Instrument(ctx context.Context, requestID, id string) (*collection.Instrument, error)

	// InstrumentByMeasure fetches the instrument bound to a measure
	// key within a request.
	InstrumentByMeasure(ctx context.Context, requestID, measureID string) (*collection.Instrument, error)

	// Instruments lists a request's instruments ordered by segment,
	// then explicit order, then id.
	Instruments(ctx context.Context, requestID string) ([]*collection.Instrument, error)

	// SaveSuggestedResponse binds a suggested response to an
	// instrument within a request.
	SaveSuggestedResponse(ctx context.Context, requestID string, bound *collection.BoundSuggestedResponse) error

	// SuggestedResponses lists an instrument's bound suggested
	// responses in insertion order.
	SuggestedResponses(ctx context.Context, requestID, instrumentID string) ([]*collection.BoundSuggestedResponse, error)

	// SuggestedResponsesForRequest returns every bound suggested
	// response in a request, grouped by instrument id. This is the
	// batch form the specification assembler uses to avoid
	// per-instrument round trips.
	SuggestedResponsesForRequest(ctx context.Context, requestID string) (map[string][]*collection.BoundSuggestedResponse, error)

	// SaveCondition attaches a condition (with its full group tree) to
	// its dependent instrument.
	SaveCondition(ctx context.Context, requestID string, cond *conditions.Condition) error

	// Conditions lists the conditions gating one instrument.
	Conditions(ctx context.Context, requestID, instrumentID string) ([]*conditions.Condition, error)

	// ConditionsForRequest returns every condition in a request,
	// grouped by dependent instrument id. This is the batch form the
	// specification assembler uses to avoid per-instrument round
	// trips.
	ConditionsForRequest(ctx context.Context, requestID string) (map[string][]*conditions.Condition, error)

	// UpsertInput writes a collected input atomically, preserving
	// DateCreated across replacements of the same id.
	UpsertInput(ctx context.Context, input *collection.CollectedInput) error

	// Inputs lists an instrument's collected inputs narrowed by the
	// collection context (user filter, latest-per-user).
	Inputs(ctx context.Context, requestID, instrumentID string, cctx collection.Context) ([]*collection.CollectedInput, error)

	// InputsForRequest returns every input in a request narrowed by
	// the collection context, grouped by instrument id.
	InputsForRequest(ctx context.Context, requestID string, cctx collection.Context) (map[string][]*collection.CollectedInput, error)

	// CollectedValues projects Inputs down to the raw answer data.
	CollectedValues(ctx context.Context, requestID, instrumentID string, cctx collection.Context) ([]any, error)

	// CountInputs counts an instrument's inputs under the collection
	// context, for capacity checks.
	CountInputs(ctx context.Context, requestID, instrumentID string, cctx collection.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}
