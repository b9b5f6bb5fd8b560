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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	badgerstore "github.com/AleutianAI/intake/services/intake/storage/badger"
)

type fixture struct {
	store   *badgerstore.Store
	request *collection.CollectionRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	req := &collection.CollectionRequest{}
	require.NoError(t, store.SaveCollectionRequest(context.Background(), req))
	return &fixture{store: store, request: req}
}

func (f *fixture) instrument(t *testing.T, id string, policy *collection.ResponsePolicy) *collection.Instrument {
	t.Helper()
	inst := &collection.Instrument{
		ID:                  id,
		CollectionRequestID: f.request.ID,
		MeasureID:           "measure-" + id,
		ResponsePolicy:      policy,
	}
	require.NoError(t, f.store.SaveInstrument(context.Background(), inst))
	return inst
}

func (f *fixture) collector(t *testing.T, opts ...Option) *Collector {
	t.Helper()
	c, err := New(f.request, f.store, opts...)
	require.NoError(t, err)
	return c
}

func (f *fixture) condition(t *testing.T, dependent *collection.Instrument, getter, matchType, matchData string) {
	t.Helper()
	data := matchData
	require.NoError(t, f.store.SaveCondition(context.Background(), f.request.ID, &conditions.Condition{
		InstrumentID: dependent.ID,
		DataGetter:   getter,
		Group: &conditions.Group{
			ID:              fmt.Sprintf("g-%s-%s-%s", dependent.ID, matchType, matchData),
			RequirementType: collection.RequirementAllPass,
			Cases: []*conditions.Case{
				{ID: "c-" + matchData, MatchType: matchType, MatchData: &data},
			},
		},
	}))
}

func TestCapacityPerUserBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)

	limit := 2
	f.request.MaxInstrumentInputsPerUser = &limit
	c := f.collector(t, WithContext(collection.Context{UserID: "alice"}))

	expected := []bool{true, true, false, false, false}
	for count, want := range expected {
		got, err := c.IsInputAllowed(ctx, inst)
		require.NoError(t, err)
		require.Equalf(t, want, got, "existing count %d with limit 2", count)

		_, err = c.Store(ctx, inst, fmt.Sprintf("answer-%d", count), "")
		require.NoError(t, err)
	}
}

func TestCapacityTotalIgnoresUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)

	limit := 2
	f.request.MaxInstrumentInputs = &limit

	alice := f.collector(t, WithContext(collection.Context{UserID: "alice"}))
	bob := f.collector(t, WithContext(collection.Context{UserID: "bob"}))

	_, err := alice.Store(ctx, inst, "a1", "")
	require.NoError(t, err)
	_, err = bob.Store(ctx, inst, "b1", "")
	require.NoError(t, err)

	// The total ceiling counts across users.
	got, err := alice.IsInputAllowed(ctx, inst)
	require.NoError(t, err)
	require.False(t, got)
}

func TestAnonymousUserSkipsPerUserLimit(t *testing.T) {
	f := newFixture(t)
	inst := f.instrument(t, "inst-1", nil)

	limit := 0
	f.request.MaxInstrumentInputsPerUser = &limit
	c := f.collector(t)

	got, err := c.IsInputAllowed(context.Background(), inst)
	require.NoError(t, err)
	require.True(t, got)
}

func TestCleanDataMultiplicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	multi := f.instrument(t, "inst-multi", &collection.ResponsePolicy{Multiple: true})
	single := f.instrument(t, "inst-single", &collection.ResponsePolicy{})
	c := f.collector(t)

	got, err := c.CleanData(ctx, multi, "a")
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, got)

	got, err = c.CleanData(ctx, multi, []any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, got)

	got, err = c.CleanData(ctx, multi, []any{""})
	require.NoError(t, err)
	require.Equal(t, []any{""}, got)

	// Every list shape is rejected when multiple is off.
	var validation *ValidationError
	for _, data := range []any{[]any{}, []any{""}, []any{"a"}, []any{"a", "b"}} {
		_, err = c.CleanData(ctx, single, data)
		require.ErrorAsf(t, err, &validation, "list %v must be rejected", data)
	}

	got, err = c.CleanData(ctx, single, "a")
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestCleanInputExpandsSuggestedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)

	require.NoError(t, f.store.SaveSuggestedResponse(ctx, f.request.ID, &collection.BoundSuggestedResponse{
		ID:                  "bound-1",
		InstrumentID:        inst.ID,
		SuggestedResponseID: "sugg-1",
		Data:                "Thermostat",
	}))
	c := f.collector(t)

	got, err := c.CleanInput(ctx, inst, map[string]any{"_suggested_response": "sugg-1"})
	require.NoError(t, err)
	require.Equal(t, "Thermostat", got)

	_, err = c.CleanInput(ctx, inst, map[string]any{"_suggested_response": "nope"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, inst.ID, validation.InstrumentID)

	// Maps without the marker key pass through.
	got, err = c.CleanInput(ctx, inst, map[string]any{"free": "form"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"free": "form"}, got)
}

func TestRestrictRequiresSuggestedValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", &collection.ResponsePolicy{Restrict: true})

	require.NoError(t, f.store.SaveSuggestedResponse(ctx, f.request.ID, &collection.BoundSuggestedResponse{
		InstrumentID: inst.ID,
		Data:         "yes",
	}))
	require.NoError(t, f.store.SaveSuggestedResponse(ctx, f.request.ID, &collection.BoundSuggestedResponse{
		InstrumentID: inst.ID,
		Data:         "no",
	}))
	c := f.collector(t)

	got, err := c.CleanData(ctx, inst, "yes")
	require.NoError(t, err)
	require.Equal(t, "yes", got)

	_, err = c.CleanData(ctx, inst, "maybe")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestIntegerMethodTranslatesCoercionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	inst.TypeID = "integer"
	require.NoError(t, f.store.SaveInstrument(ctx, inst))

	c := f.collector(t, WithTypeMethods(map[string]*InputMethod{
		"integer": IntegerMethod(),
	}))

	got, err := c.CleanInput(ctx, inst, "41")
	require.NoError(t, err)
	require.Equal(t, int64(41), got)

	_, err = c.CleanInput(ctx, inst, "forty-one")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "Please enter a valid integer.", validation.Msg)
}

func TestMeasureMethodsWinOverTypeMethods(t *testing.T) {
	f := newFixture(t)
	inst := f.instrument(t, "inst-1", nil)
	inst.TypeID = "integer"

	c := f.collector(t,
		WithTypeMethods(map[string]*InputMethod{"integer": IntegerMethod()}),
		WithMeasureMethods(map[string]*InputMethod{inst.MeasureID: CharMethod()}),
	)

	got, err := c.CleanInput(context.Background(), inst, 41)
	require.NoError(t, err)
	require.Equal(t, "41", got)
}

func TestStageCleanResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t)

	require.NoError(t, c.Stage(ctx, Payload{InstrumentID: inst.ID, Data: "a"}))
	require.Equal(t, 1, c.CleanIndex())
	require.Len(t, c.CleanedData(), 1)

	require.NoError(t, c.Stage(ctx, Payload{InstrumentID: inst.ID, Data: "b"}))
	require.Equal(t, 2, c.CleanIndex())
	require.Len(t, c.CleanedData(), 2)

	// A redundant clean neither moves the cursor nor re-cleans.
	require.NoError(t, c.Clean(ctx))
	require.Equal(t, 2, c.CleanIndex())
	require.Len(t, c.CleanedData(), 2)

	c.Clear()
	require.Nil(t, c.StagedData())
	require.Nil(t, c.CleanedData())
	require.Equal(t, 0, c.CleanIndex())
}

func TestStageResolvesMeasureReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t)

	require.NoError(t, c.Stage(ctx, Payload{MeasureID: inst.MeasureID, Data: "a"}))
	require.Equal(t, inst.ID, c.CleanedData()[0].Instrument.ID)
}

func TestStageWithoutCleanDefersWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t)

	c.StageWithoutClean(Payload{InstrumentID: inst.ID, Data: "a"})
	require.Nil(t, c.CleanedData())

	require.NoError(t, c.Clean(ctx))
	require.Len(t, c.CleanedData(), 1)
}

func TestCleanPartialCollectsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t)

	c.StageWithoutClean(
		Payload{InstrumentID: inst.ID, Data: "good"},
		Payload{InstrumentID: "ghost", Data: "bad"},
		Payload{InstrumentID: inst.ID, Data: "also good"},
	)
	errs := c.CleanPartial(ctx)
	require.Len(t, errs, 1)
	require.Len(t, c.CleanedData(), 2)
	require.Equal(t, 3, c.CleanIndex())
}

func TestSaveStoresCleanedPayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t, WithContext(collection.Context{UserID: "alice"}))

	require.NoError(t, c.Stage(ctx,
		Payload{InstrumentID: inst.ID, Data: "a"},
		Payload{InstrumentID: inst.ID, Data: "b"},
	))
	stored, err := c.Save(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, Version, stored[0].Version)
	require.Equal(t, c.IdentifierHex(), stored[0].CollectorClass)
	require.Nil(t, c.StagedData())

	values, err := f.store.CollectedValues(ctx, f.request.ID, inst.ID, collection.Context{})
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"a", "b"}, values)
}

func TestStoreUpdatesExistingInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)
	c := f.collector(t)

	first, err := c.Store(ctx, inst, "a", "")
	require.NoError(t, err)
	second, err := c.Store(ctx, inst, "b", first.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	values, err := f.store.CollectedValues(ctx, f.request.ID, inst.ID, collection.Context{})
	require.NoError(t, err)
	require.Equal(t, []any{"b"}, values)
}

func TestConditionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.instrument(t, "inst-p", nil)
	child := f.instrument(t, "inst-b", nil)
	f.condition(t, child, "instrument:"+parent.ID, "contains", "foo")
	c := f.collector(t)

	_, err := c.Store(ctx, parent, "xfoox", "")
	require.NoError(t, err)
	allowed, err := c.IsInstrumentAllowed(ctx, child)
	require.NoError(t, err)
	require.True(t, allowed)

	breakdown, err := c.ConditionBreakdown(ctx, child)
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	require.True(t, breakdown[0].Passed)

	f2 := newFixture(t)
	parent2 := f2.instrument(t, "inst-p", nil)
	child2 := f2.instrument(t, "inst-b", nil)
	f2.condition(t, child2, "instrument:"+parent2.ID, "contains", "foo")
	c2 := f2.collector(t)

	_, err = c2.Store(ctx, parent2, "bar", "")
	require.NoError(t, err)
	allowed, err = c2.IsInstrumentAllowed(ctx, child2)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestTwoParentCombinators(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, requirement string, p2Answer string) bool {
		f := newFixture(t)
		p1 := f.instrument(t, "inst-p1", nil)
		p2 := f.instrument(t, "inst-p2", nil)
		b := f.instrument(t, "inst-b", nil)
		b.TestRequirementType = requirement
		require.NoError(t, f.store.SaveInstrument(ctx, b))

		f.condition(t, b, "instrument:"+p1.ID, "contains", "foo")
		f.condition(t, b, "instrument:"+p2.ID, "contains", "bar")
		c := f.collector(t)

		_, err := c.Store(ctx, p1, "foo", "")
		require.NoError(t, err)
		_, err = c.Store(ctx, p2, p2Answer, "")
		require.NoError(t, err)

		allowed, err := c.IsInstrumentAllowed(ctx, b)
		require.NoError(t, err)
		return allowed
	}

	require.True(t, run(t, collection.RequirementAllPass, "bar"))
	require.False(t, run(t, collection.RequirementAllPass, "baz"))
	require.True(t, run(t, collection.RequirementOnePass, "baz"))
}

func TestGatedInstrumentRejectsStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.instrument(t, "inst-p", nil)
	child := f.instrument(t, "inst-b", nil)
	f.condition(t, child, "instrument:"+parent.ID, "contains", "foo")
	c := f.collector(t)

	// No parent answer yet, so the gate is closed.
	err := c.Stage(ctx, Payload{InstrumentID: child.ID, Data: "x"})
	var availability *AvailabilityError
	require.ErrorAs(t, err, &availability)
	require.Equal(t, child.ID, availability.InstrumentID)
	require.Empty(t, availability.Limit)
}

func TestCapacityLimitSurfacesInError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.instrument(t, "inst-1", nil)

	limit := 1
	f.request.MaxInstrumentInputsPerUser = &limit
	c := f.collector(t, WithContext(collection.Context{UserID: "alice"}))

	require.NoError(t, c.Stage(ctx, Payload{InstrumentID: inst.ID, Data: "a"}))
	_, err := c.Save(ctx)
	require.NoError(t, err)

	err = c.Stage(ctx, Payload{InstrumentID: inst.ID, Data: "b"})
	var availability *AvailabilityError
	require.ErrorAs(t, err, &availability)
	require.Equal(t, LimitPerUser, availability.Limit)
	require.Equal(t, 1, availability.Max)
	require.Equal(t, "alice", availability.UserID)
}

func TestRegistryIdentifiers(t *testing.T) {
	id := Register(QualifiedName, New)
	require.Equal(t, Identifier(QualifiedName), id)
	require.Len(t, id, 64)

	factory, err := Resolve(id)
	require.NoError(t, err)
	require.NotNil(t, factory)
	require.Contains(t, RegisteredNames(), QualifiedName)

	_, err = Resolve("no-such-identifier")
	var unknown *UnknownCollectorError
	require.True(t, errors.As(err, &unknown))
}
