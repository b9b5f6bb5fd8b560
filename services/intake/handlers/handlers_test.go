// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/collector"
	"github.com/AleutianAI/intake/services/intake/conditions"
	"github.com/AleutianAI/intake/services/intake/handlers"
	"github.com/AleutianAI/intake/services/intake/routes"
	badgerstore "github.com/AleutianAI/intake/services/intake/storage/badger"
	"github.com/AleutianAI/intake/services/intake/telemetry"
)

type server struct {
	router  *gin.Engine
	store   *badgerstore.Store
	request *collection.CollectionRequest
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	collector.Register(collector.QualifiedName, collector.New)

	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	metrics, err := telemetry.New(reg)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := handlers.NewAPI(store, metrics, log)

	router := gin.New()
	routes.Setup(router, routes.Config{API: api, Metrics: metrics, Gatherer: reg})

	req := &collection.CollectionRequest{}
	require.NoError(t, store.SaveCollectionRequest(context.Background(), req))
	return &server{router: router, store: store, request: req}
}

func (s *server) instrument(t *testing.T, id string, policy *collection.ResponsePolicy) *collection.Instrument {
	t.Helper()
	inst := &collection.Instrument{
		ID:                  id,
		CollectionRequestID: s.request.ID,
		MeasureID:           "measure-" + id,
		ResponsePolicy:      policy,
	}
	require.NoError(t, s.store.SaveInstrument(context.Background(), inst))
	return inst
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndGetRequest(t *testing.T) {
	s := newServer(t)

	limit := 3
	w := s.do(t, http.MethodPost, "/v1/requests", handlers.CreateRequestBody{
		MaxInstrumentInputsPerUser: &limit,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created collection.CollectionRequest
	decode(t, w, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 3, *created.MaxInstrumentInputsPerUser)

	w = s.do(t, http.MethodGet, "/v1/requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/requests/no-such-request", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitInputs(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"user": "alice",
		"inputs": []gin.H{
			{"instrument": inst.ID, "data": "hello"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Inputs []*collection.CollectedInput `json:"inputs"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Inputs, 1)
	require.Equal(t, "hello", resp.Inputs[0].Data)
	require.Equal(t, "alice", resp.Inputs[0].UserID)

	stored, err := s.store.Inputs(context.Background(), s.request.ID, inst.ID, collection.Context{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestSubmitByMeasureReference(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"inputs": []gin.H{
			{"measure": inst.MeasureID, "data": 42},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitValidationFailures(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	cases := []struct {
		name string
		body gin.H
	}{
		{"empty batch", gin.H{"inputs": []gin.H{}}},
		{"no target", gin.H{"inputs": []gin.H{{"data": 1}}}},
		{"both targets", gin.H{"inputs": []gin.H{
			{"instrument": inst.ID, "measure": inst.MeasureID, "data": 1},
		}}},
		{"unknown instrument", gin.H{"inputs": []gin.H{
			{"instrument": "no-such-instrument", "data": 1},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSubmitListRejectedWhenSingle(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", &collection.ResponsePolicy{ID: "p1", Multiple: false})

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"inputs": []gin.H{
			{"instrument": inst.ID, "data": []int{1, 2}},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitCapacityExhausted(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	limit := 1
	s.request.MaxInstrumentInputsPerUser = &limit
	require.NoError(t, s.store.SaveCollectionRequest(context.Background(), s.request))

	submit := func() *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
			"user": "alice",
			"inputs": []gin.H{
				{"instrument": inst.ID, "data": "x"},
			},
		})
	}
	require.Equal(t, http.StatusCreated, submit().Code)
	require.Equal(t, http.StatusForbidden, submit().Code)
}

func TestSubmitGatedInstrument(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	data := "['never']"
	require.NoError(t, s.store.SaveCondition(context.Background(), s.request.ID, &conditions.Condition{
		InstrumentID: inst.ID,
		DataGetter:   "debug:[]",
		Group: &conditions.Group{
			ID:              "g1",
			RequirementType: collection.RequirementAllPass,
			Cases: []*conditions.Case{
				{ID: "c1", MatchType: "match", MatchData: &data},
			},
		},
	}))

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"inputs": []gin.H{
			{"instrument": inst.ID, "data": "x"},
		},
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateInput(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"user": "alice",
		"inputs": []gin.H{
			{"instrument": inst.ID, "data": "before"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Inputs []*collection.CollectedInput `json:"inputs"`
	}
	decode(t, w, &created)
	inputID := created.Inputs[0].ID

	w = s.do(t, http.MethodPut,
		fmt.Sprintf("/v1/requests/%s/inputs/%s", s.request.ID, inputID), gin.H{
			"user":       "alice",
			"instrument": inst.ID,
			"data":       "after",
		})
	require.Equal(t, http.StatusOK, w.Code)

	var updated collection.CollectedInput
	decode(t, w, &updated)
	require.Equal(t, inputID, updated.ID)
	require.Equal(t, "after", updated.Data)

	stored, err := s.store.Inputs(context.Background(), s.request.ID, inst.ID, collection.Context{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "after", stored[0].Data)
}

func TestGetSpecification(t *testing.T) {
	s := newServer(t)
	s.instrument(t, "inst-1", nil)

	w := s.do(t, http.MethodGet, "/v1/requests/"+s.request.ID+"/specification?user=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]json.RawMessage
	decode(t, w, &doc)
	require.Contains(t, doc, "meta")
	require.Contains(t, doc, "collector")
	require.Contains(t, doc, "instruments_info")
}

func TestInstrumentAllowedEndpoint(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	data := "['never']"
	require.NoError(t, s.store.SaveCondition(context.Background(), s.request.ID, &conditions.Condition{
		InstrumentID: inst.ID,
		DataGetter:   "debug:[]",
		Group: &conditions.Group{
			ID:              "g1",
			RequirementType: collection.RequirementAllPass,
			Cases: []*conditions.Case{
				{ID: "c1", MatchType: "match", MatchData: &data},
			},
		},
	}))

	w := s.do(t, http.MethodGet,
		fmt.Sprintf("/v1/requests/%s/instruments/%s/allowed", s.request.ID, inst.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Instrument  string `json:"instrument"`
		Allowed     bool   `json:"allowed"`
		HasCapacity bool   `json:"has_capacity"`
	}
	decode(t, w, &resp)
	require.Equal(t, inst.ID, resp.Instrument)
	require.False(t, resp.Allowed)
	require.False(t, resp.HasCapacity)

	w = s.do(t, http.MethodGet,
		fmt.Sprintf("/v1/requests/%s/instruments/%s/breakdown", s.request.ID, inst.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var breakdown struct {
		Conditions []collector.ConditionResult `json:"conditions"`
	}
	decode(t, w, &breakdown)
	require.Len(t, breakdown.Conditions, 1)
	require.False(t, breakdown.Conditions[0].Passed)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	inst := s.instrument(t, "inst-1", nil)

	w := s.do(t, http.MethodPost, "/v1/requests/"+s.request.ID+"/inputs", gin.H{
		"inputs": []gin.H{{"instrument": inst.ID, "data": "x"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "intake_inputs_stored_total")
}
