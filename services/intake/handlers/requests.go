// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/specification"
)

// CreateRequestBody is the POST /v1/requests payload.
type CreateRequestBody struct {
	MaxInstrumentInputsPerUser *int `json:"max_instrument_inputs_per_user" binding:"omitempty,min=0"`
	MaxInstrumentInputs        *int `json:"max_instrument_inputs" binding:"omitempty,min=0"`
}

// CreateRequest opens a new collection request.
func (a *API) CreateRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body CreateRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		req := &collection.CollectionRequest{
			MaxInstrumentInputsPerUser: body.MaxInstrumentInputsPerUser,
			MaxInstrumentInputs:        body.MaxInstrumentInputs,
		}
		if err := a.store.SaveCollectionRequest(c.Request.Context(), req); err != nil {
			a.respondError(c, err)
			return
		}
		a.log.Info("collection request created", "request_id", req.ID)
		c.JSON(http.StatusCreated, req)
	}
}

// GetRequest fetches one collection request.
func (a *API) GetRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := a.store.CollectionRequest(c.Request.Context(), c.Param("request_id"))
		if err != nil {
			a.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

// GetSpecification assembles the machine-readable specification for a
// request under the caller's context (user, latest_only query
// parameters).
func (a *API) GetSpecification() gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := a.collectorFor(c, c.Param("request_id"), "", "")
		if !ok {
			return
		}

		start := time.Now()
		doc, err := specification.Assemble(c.Request.Context(), col)
		if err != nil {
			a.respondError(c, err)
			return
		}
		a.metrics.SpecificationDuration.Observe(time.Since(start).Seconds())
		c.JSON(http.StatusOK, doc)
	}
}
