// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeClock makes every write one second newer than the last.
func fakeClock(s *Store) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
}

func TestCollectionRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	limit := 2
	req := &collection.CollectionRequest{MaxInstrumentInputsPerUser: &limit}
	require.NoError(t, s.SaveCollectionRequest(ctx, req))
	require.NotEmpty(t, req.ID)

	got, err := s.CollectionRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
	require.NotNil(t, got.MaxInstrumentInputsPerUser)
	require.Equal(t, 2, *got.MaxInstrumentInputsPerUser)
	require.False(t, got.DateCreated.IsZero())

	_, err = s.CollectionRequest(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInstrumentOrderingAndMeasureLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := &collection.CollectionRequest{}
	require.NoError(t, s.SaveCollectionRequest(ctx, req))

	save := func(id, segment string, order int, measure string) {
		require.NoError(t, s.SaveInstrument(ctx, &collection.Instrument{
			ID:                  id,
			CollectionRequestID: req.ID,
			SegmentID:           segment,
			Order:               order,
			MeasureID:           measure,
		}))
	}
	save("inst-c", "b-segment", 1, "")
	save("inst-a", "a-segment", 2, "water-heater")
	save("inst-b", "a-segment", 1, "")

	instruments, err := s.Instruments(ctx, req.ID)
	require.NoError(t, err)
	ids := make([]string, len(instruments))
	for i, inst := range instruments {
		ids[i] = inst.ID
	}
	require.Equal(t, []string{"inst-b", "inst-a", "inst-c"}, ids)

	byMeasure, err := s.InstrumentByMeasure(ctx, req.ID, "water-heater")
	require.NoError(t, err)
	require.Equal(t, "inst-a", byMeasure.ID)

	_, err = s.InstrumentByMeasure(ctx, req.ID, "no-such-measure")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSuggestedResponsesKeepOrderAndNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, data := range []any{int64(3), "strings too", 1.5} {
		require.NoError(t, s.SaveSuggestedResponse(ctx, "req-1", &collection.BoundSuggestedResponse{
			InstrumentID: "inst-1",
			Data:         data,
		}))
	}

	got, err := s.SuggestedResponses(ctx, "req-1", "inst-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(3), got[0].Data)
	require.Equal(t, "strings too", got[1].Data)
	require.Equal(t, 1.5, got[2].Data)

	// An instrument with no suggested responses is empty, not an error.
	none, err := s.SuggestedResponses(ctx, "req-1", "inst-2")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSuggestedResponsesForRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSuggestedResponse(ctx, "req-1", &collection.BoundSuggestedResponse{
		InstrumentID: "inst-a",
		Data:         "yes",
	}))
	require.NoError(t, s.SaveSuggestedResponse(ctx, "req-1", &collection.BoundSuggestedResponse{
		InstrumentID: "inst-a",
		Data:         int64(7),
	}))
	require.NoError(t, s.SaveSuggestedResponse(ctx, "req-1", &collection.BoundSuggestedResponse{
		InstrumentID: "inst-b",
		Data:         "no",
	}))
	require.NoError(t, s.SaveSuggestedResponse(ctx, "req-2", &collection.BoundSuggestedResponse{
		InstrumentID: "inst-c",
		Data:         "other request",
	}))

	byInst, err := s.SuggestedResponsesForRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, byInst, 2)
	require.Len(t, byInst["inst-a"], 2)
	require.Equal(t, "yes", byInst["inst-a"][0].Data)
	require.Equal(t, int64(7), byInst["inst-a"][1].Data)
	require.Len(t, byInst["inst-b"], 1)

	empty, err := s.SuggestedResponsesForRequest(ctx, "req-3")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestConditionPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := "foo"

	cond := &conditions.Condition{
		InstrumentID: "inst-b",
		DataGetter:   "instrument:inst-p",
		Group: &conditions.Group{
			ID:              "g1",
			RequirementType: collection.RequirementAllPass,
			Cases: []*conditions.Case{
				{ID: "c1", MatchType: "contains", MatchData: &data},
			},
		},
	}
	require.NoError(t, s.SaveCondition(ctx, "req-1", cond))

	got, err := s.Conditions(ctx, "req-1", "inst-b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "instrument:inst-p", got[0].DataGetter)
	require.Equal(t, "contains", got[0].Group.Cases[0].MatchType)

	byInstrument, err := s.ConditionsForRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, byInstrument["inst-b"], 1)
}

func TestSaveConditionRejectsCycles(t *testing.T) {
	s := newTestStore(t)

	a := &conditions.Group{ID: "a", RequirementType: collection.RequirementAllPass}
	b := &conditions.Group{ID: "b", RequirementType: collection.RequirementAllPass, Groups: []*conditions.Group{a}}
	a.Groups = []*conditions.Group{b}

	err := s.SaveCondition(context.Background(), "req-1", &conditions.Condition{
		InstrumentID: "inst-b",
		DataGetter:   "instrument:inst-p",
		Group:        a,
	})
	var cycle *conditions.GroupCycleError
	require.ErrorAs(t, err, &cycle)
}

func TestUpsertInputPreservesCreation(t *testing.T) {
	s := newTestStore(t)
	fakeClock(s)
	ctx := context.Background()

	input := &collection.CollectedInput{
		ID:                  "in-1",
		CollectionRequestID: "req-1",
		InstrumentID:        "inst-1",
		UserID:              "user-1",
		Data:                "first",
	}
	require.NoError(t, s.UpsertInput(ctx, input))
	created := input.DateCreated
	require.False(t, created.IsZero())

	input.Data = "second"
	require.NoError(t, s.UpsertInput(ctx, input))
	require.Equal(t, created, input.DateCreated)
	require.True(t, input.DateModified.After(created))

	inputs, err := s.Inputs(ctx, "req-1", "inst-1", collection.Context{})
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, "second", inputs[0].Data)
}

func TestInputNarrowing(t *testing.T) {
	s := newTestStore(t)
	fakeClock(s)
	ctx := context.Background()

	write := func(id, user string, data any) {
		require.NoError(t, s.UpsertInput(ctx, &collection.CollectedInput{
			ID:                  id,
			CollectionRequestID: "req-1",
			InstrumentID:        "inst-1",
			UserID:              user,
			Data:                data,
		}))
	}
	write("in-1", "alice", int64(1))
	write("in-2", "alice", int64(2))
	write("in-3", "bob", int64(3))

	all, err := s.CollectedValues(ctx, "req-1", "inst-1", collection.Context{})
	require.NoError(t, err)
	require.ElementsMatch(t, []any{int64(1), int64(2), int64(3)}, all)

	alice, err := s.CollectedValues(ctx, "req-1", "inst-1", collection.Context{UserID: "alice"})
	require.NoError(t, err)
	require.ElementsMatch(t, []any{int64(1), int64(2)}, alice)

	latest, err := s.CollectedValues(ctx, "req-1", "inst-1", collection.Context{LatestOnly: true})
	require.NoError(t, err)
	require.ElementsMatch(t, []any{int64(2), int64(3)}, latest)

	count, err := s.CountInputs(ctx, "req-1", "inst-1", collection.Context{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	byInstrument, err := s.InputsForRequest(ctx, "req-1", collection.Context{})
	require.NoError(t, err)
	require.Len(t, byInstrument["inst-1"], 3)
}

func TestNumbersSurviveStorage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInput(ctx, &collection.CollectedInput{
		ID:                  "in-int",
		CollectionRequestID: "req-1",
		InstrumentID:        "inst-1",
		Data:                int64(13),
	}))
	require.NoError(t, s.UpsertInput(ctx, &collection.CollectedInput{
		ID:                  "in-float",
		CollectionRequestID: "req-1",
		InstrumentID:        "inst-1",
		Data:                13.5,
	}))

	values, err := s.CollectedValues(ctx, "req-1", "inst-1", collection.Context{})
	require.NoError(t, err)
	require.ElementsMatch(t, []any{int64(13), 13.5}, values)
}
