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
	"strings"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/storage"
)

// ChildConditions returns every condition in the request whose data
// getter reads inst's answers, by instrument id or by measure key.
func (c *Collector) ChildConditions(ctx context.Context, inst *collection.Instrument) ([]*conditions.Condition, error) {
	byInst, err := c.store.ConditionsForRequest(ctx, c.request.ID)
	if err != nil {
		return nil, err
	}

	byID := "instrument:" + inst.ID
	byMeasure := ""
	if inst.MeasureID != "" {
		byMeasure = "instrument:" + inst.MeasureID
	}

	var children []*conditions.Condition
	for _, conds := range byInst {
		for _, cond := range conds {
			if cond.DataGetter == byID || (byMeasure != "" && cond.DataGetter == byMeasure) {
				children = append(children, cond)
			}
		}
	}
	return children, nil
}

// ChildInstruments returns the instruments gated on inst's answers, in
// the request's display order.
func (c *Collector) ChildInstruments(ctx context.Context, inst *collection.Instrument) ([]*collection.Instrument, error) {
	children, err := c.ChildConditions(ctx, inst)
	if err != nil {
		return nil, err
	}
	dependent := make(map[string]bool, len(children))
	for _, cond := range children {
		dependent[cond.InstrumentID] = true
	}

	all, err := c.store.Instruments(ctx, c.request.ID)
	if err != nil {
		return nil, err
	}
	var out []*collection.Instrument
	for _, candidate := range all {
		if dependent[candidate.ID] {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// ParentInstruments returns the instruments whose answers inst's own
// conditions read. Getters with non-instrument schemes are skipped;
// dangling instrument references are skipped too, since the gate
// treats them as resolver traversal failures rather than hard errors.
func (c *Collector) ParentInstruments(ctx context.Context, inst *collection.Instrument) ([]*collection.Instrument, error) {
	conds, err := c.store.Conditions(ctx, c.request.ID, inst.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*collection.Instrument
	for _, cond := range conds {
		reference, ok := strings.CutPrefix(cond.DataGetter, "instrument:")
		if !ok {
			continue
		}
		parent, err := c.store.Instrument(ctx, c.request.ID, reference)
		if errors.Is(err, storage.ErrNotFound) {
			parent, err = c.store.InstrumentByMeasure(ctx, c.request.ID, reference)
		}
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !seen[parent.ID] {
			seen[parent.ID] = true
			out = append(out, parent)
		}
	}
	return out, nil
}
