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
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// InstrumentResolver handles "instrument:<id-or-measure-key>" data
// getters: it expands the reference to the target instrument's
// collected answer values for the active context, plus its suggested
// response values for the match types that need them.
type InstrumentResolver struct {
	store storage.Store
}

// NewInstrumentResolver binds the resolver to its storage collaborator.
func NewInstrumentResolver(store storage.Store) *InstrumentResolver {
	return &InstrumentResolver{store: store}
}

func (r *InstrumentResolver) Name() string { return "instrument" }

func (r *InstrumentResolver) Pattern() string { return `(?P<reference>.+)` }

func (r *InstrumentResolver) Resolve(ctx context.Context, lookup conditions.Lookup, params map[string]string) (*conditions.ResolvedData, error) {
	if lookup.Instrument == nil {
		return nil, errors.New("collector: instrument resolver requires a dependent instrument")
	}
	requestID := lookup.Instrument.CollectionRequestID
	reference := params["reference"]

	// The reference is an instrument id, or failing that a measure key
	// within the same collection request.
	target, err := r.store.Instrument(ctx, requestID, reference)
	if errors.Is(err, storage.ErrNotFound) {
		target, err = r.store.InstrumentByMeasure(ctx, requestID, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("collector: resolve instrument reference %q: %w", reference, err)
	}

	values, err := r.store.CollectedValues(ctx, requestID, target.ID, lookup.Context)
	if err != nil {
		return nil, err
	}
	bound, err := r.store.SuggestedResponses(ctx, requestID, target.ID)
	if err != nil {
		return nil, err
	}
	suggested := make([]any, len(bound))
	for i, b := range bound {
		suggested[i] = b.Data
	}
	return &conditions.ResolvedData{Values: values, SuggestedValues: suggested}, nil
}
