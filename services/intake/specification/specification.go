// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package specification assembles the machine-readable description of a
// collection request: every instrument with its response policy,
// suggested responses, input method, gating conditions and already
// collected inputs, in one JSON-safe document another tool can use to
// supply inputs correctly.
//
// # Thread Safety
//
// Assemble performs read-only storage access and is safe to call
// concurrently for the same collector.
package specification

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/collector"
	"github.com/AleutianAI/intake/services/intake/conditions"
)

// SerializerVersion identifies the document layout. Bump when the
// shape of the document changes in a way consumers must detect.
const SerializerVersion = "1.0.0"

// Meta carries the version pair consumers use to validate a document
// before interpreting it.
type Meta struct {
	// Version is the collector implementation version.
	Version string `json:"version"`

	// SerializerVersion is the document layout version.
	SerializerVersion string `json:"serializer_version"`
}

// SuggestedResponseInfo is one suggested answer as surfaced to
// consumers: the canonical suggested response id and its data.
type SuggestedResponseInfo struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// MethodInfo describes the input cleaner applied to an instrument's
// submissions.
type MethodInfo struct {
	Name         string `json:"name"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ResponseInfo bundles everything a consumer needs to shape a valid
// answer for one instrument.
type ResponseInfo struct {
	ResponsePolicy     *collection.ResponsePolicy `json:"response_policy"`
	SuggestedResponses []SuggestedResponseInfo    `json:"suggested_responses"`
	Method             MethodInfo                 `json:"method"`
}

// InstrumentInfo is one instrument's full entry in the document.
//
// Conditions gate this instrument on other data; ChildConditions are
// the conditions elsewhere in the request that read THIS instrument's
// answers, so a consumer knows which instruments to re-evaluate after
// submitting here.
type InstrumentInfo struct {
	ID                  string `json:"id"`
	CollectionRequestID string `json:"collection_request"`
	MeasureID           string `json:"measure"`
	SegmentID           string `json:"segment"`
	GroupID             string `json:"group"`
	TypeID              string `json:"type"`
	Order               int    `json:"order"`
	Text                string `json:"text"`
	Description         string `json:"description"`
	Help                string `json:"help"`

	// ResponsePolicyID is the policy reference; the full policy rides
	// in ResponseInfo.
	ResponsePolicyID string `json:"response_policy"`

	TestRequirementType string       `json:"test_requirement_type"`
	ResponseInfo        ResponseInfo `json:"response_info"`

	CollectedInputs []*collection.CollectedInput `json:"collected_inputs"`
	Conditions      []*conditions.Condition      `json:"conditions"`
	ChildConditions []*conditions.Condition      `json:"child_conditions"`
}

// InstrumentsInfo is the instrument map plus the unconditional
// ordering: instruments with no gating conditions, in display order,
// which a consumer can always render without evaluating anything.
type InstrumentsInfo struct {
	Instruments map[string]*InstrumentInfo `json:"instruments"`
	Ordering    []string                   `json:"ordering"`
}

// Document is the full specification for one collection request under
// one caller context.
type Document struct {
	Meta              Meta                                    `json:"meta"`
	Collector         string                                  `json:"collector"`
	CollectionRequest *collection.CollectionRequest           `json:"collection_request"`
	Segment           string                                  `json:"segment"`
	Group             string                                  `json:"group"`
	Groups            []string                                `json:"groups"`
	InstrumentsInfo   InstrumentsInfo                         `json:"instruments_info"`
	CollectedInputs   map[string][]*collection.CollectedInput `json:"collected_inputs"`
}

// Assemble builds the document for the collector's request and caller
// context. The four request-wide reads (instruments, conditions,
// suggested responses, inputs) run concurrently; the per-instrument
// assembly that follows touches storage not at all, so the data-access
// cost stays flat no matter how many instruments the request carries.
func Assemble(ctx context.Context, col *collector.Collector) (*Document, error) {
	store := col.Storage()
	requestID := col.Request().ID

	var (
		instruments []*collection.Instrument
		condsByInst map[string][]*conditions.Condition
		suggByInst  map[string][]*collection.BoundSuggestedResponse
		inputs      map[string][]*collection.CollectedInput
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		instruments, err = store.Instruments(gctx, requestID)
		return err
	})
	g.Go(func() error {
		var err error
		condsByInst, err = store.ConditionsForRequest(gctx, requestID)
		return err
	})
	g.Go(func() error {
		var err error
		suggByInst, err = store.SuggestedResponsesForRequest(gctx, requestID)
		return err
	})
	g.Go(func() error {
		var err error
		inputs, err = store.InputsForRequest(gctx, requestID, col.Context())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assembling specification for request %s: %w", requestID, err)
	}

	infos := make(map[string]*InstrumentInfo, len(instruments))
	for _, inst := range instruments {
		info, err := instrumentInfo(ctx, col, inst, condsByInst, suggByInst, inputs)
		if err != nil {
			return nil, fmt.Errorf("assembling specification for request %s: %w", requestID, err)
		}
		infos[inst.ID] = info
	}

	// Unconditional instruments, preserving display order.
	ordering := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if len(infos[inst.ID].Conditions) == 0 {
			ordering = append(ordering, inst.ID)
		}
	}

	return &Document{
		Meta: Meta{
			Version:           collector.Version,
			SerializerVersion: SerializerVersion,
		},
		Collector:         col.IdentifierHex(),
		CollectionRequest: col.Request(),
		Segment:           col.Segment(),
		Group:             col.Group(),
		Groups:            col.Groups(),
		InstrumentsInfo: InstrumentsInfo{
			Instruments: infos,
			Ordering:    ordering,
		},
		CollectedInputs: inputs,
	}, nil
}

func instrumentInfo(
	ctx context.Context,
	col *collector.Collector,
	inst *collection.Instrument,
	condsByInst map[string][]*conditions.Condition,
	suggByInst map[string][]*collection.BoundSuggestedResponse,
	inputs map[string][]*collection.CollectedInput,
) (*InstrumentInfo, error) {
	bound := suggByInst[inst.ID]
	suggested := make([]SuggestedResponseInfo, 0, len(bound))
	for _, b := range bound {
		id := b.SuggestedResponseID
		if id == "" {
			id = b.ID
		}
		suggested = append(suggested, SuggestedResponseInfo{ID: id, Data: b.Data})
	}

	method, err := col.MethodFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	policyID := ""
	if inst.ResponsePolicy != nil {
		policyID = inst.ResponsePolicy.ID
	}

	return &InstrumentInfo{
		ID:                  inst.ID,
		CollectionRequestID: inst.CollectionRequestID,
		MeasureID:           inst.MeasureID,
		SegmentID:           inst.SegmentID,
		GroupID:             inst.GroupID,
		TypeID:              inst.TypeID,
		Order:               inst.Order,
		Text:                inst.Text,
		Description:         inst.Description,
		Help:                inst.Help,
		ResponsePolicyID:    policyID,
		TestRequirementType: inst.TestRequirementType,
		ResponseInfo: ResponseInfo{
			ResponsePolicy:     inst.ResponsePolicy,
			SuggestedResponses: suggested,
			Method: MethodInfo{
				Name:         method.Name,
				ErrorMessage: method.ErrorMessage,
			},
		},
		CollectedInputs: inputs[inst.ID],
		Conditions:      nonNilConditions(condsByInst[inst.ID]),
		ChildConditions: childConditions(inst, condsByInst),
	}, nil
}

// childConditions finds the conditions anywhere in the request whose
// data getter reads this instrument, by id or by measure key.
func childConditions(inst *collection.Instrument, condsByInst map[string][]*conditions.Condition) []*conditions.Condition {
	byID := "instrument:" + inst.ID
	byMeasure := "instrument:" + inst.MeasureID
	children := []*conditions.Condition{}
	for _, conds := range condsByInst {
		for _, cond := range conds {
			if cond.DataGetter == byID || cond.DataGetter == byMeasure {
				children = append(children, cond)
			}
		}
	}
	return children
}

func nonNilConditions(conds []*conditions.Condition) []*conditions.Condition {
	if conds == nil {
		return []*conditions.Condition{}
	}
	return conds
}
