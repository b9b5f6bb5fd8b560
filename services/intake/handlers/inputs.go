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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/intake/services/intake/collector"
)

// InputBody is one submitted answer. The target instrument is
// addressed by instrument id or by measure key; exactly one is
// required.
type InputBody struct {
	Instrument string `json:"instrument" binding:"required_without=Measure,excluded_with=Measure"`
	Measure    string `json:"measure" binding:"required_without=Instrument"`
	Data       any    `json:"data"`
}

// SubmitInputsBody is the POST inputs payload: a batch of answers
// submitted under one user identity.
type SubmitInputsBody struct {
	User      string      `json:"user"`
	Collector string      `json:"collector"`
	Inputs    []InputBody `json:"inputs" binding:"required,min=1,dive"`
}

// UpdateInputBody is the PUT input payload, replacing the data of an
// existing collected input.
type UpdateInputBody struct {
	User       string `json:"user"`
	Collector  string `json:"collector"`
	Instrument string `json:"instrument" binding:"required_without=Measure,excluded_with=Measure"`
	Measure    string `json:"measure" binding:"required_without=Instrument"`
	Data       any    `json:"data"`
}

// SubmitInputs stages, cleans and stores a batch of answers. The batch
// is atomic at the cleaning stage: the first payload that fails
// validation, gating or capacity rejects the whole batch before
// anything is written.
func (a *API) SubmitInputs() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body SubmitInputsBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		col, ok := a.collectorFor(c, c.Param("request_id"), body.Collector, body.User)
		if !ok {
			return
		}

		payloads := make([]collector.Payload, 0, len(body.Inputs))
		for _, in := range body.Inputs {
			payloads = append(payloads, collector.Payload{
				InstrumentID: in.Instrument,
				MeasureID:    in.Measure,
				Data:         in.Data,
			})
		}

		ctx := c.Request.Context()
		if err := col.Stage(ctx, payloads...); err != nil {
			outcome := cleanOutcome(err)
			a.metrics.PayloadsCleaned.WithLabelValues(outcome).Inc()
			var availability *collector.AvailabilityError
			if errors.As(err, &availability) && availability.Limit != "" {
				a.metrics.CapacityRejections.WithLabelValues(string(availability.Limit)).Inc()
			}
			a.respondError(c, err)
			return
		}
		a.metrics.PayloadsCleaned.WithLabelValues("ok").Add(float64(len(payloads)))

		stored, err := col.Save(ctx)
		if err != nil {
			a.respondError(c, err)
			return
		}
		a.metrics.InputsStored.Add(float64(len(stored)))
		a.log.Info("inputs stored",
			"request_id", col.Request().ID, "user", body.User, "count", len(stored))
		c.JSON(http.StatusCreated, gin.H{"inputs": stored})
	}
}

// UpdateInput replaces an existing input's data after cleaning it
// against the instrument's current policy and gate.
func (a *API) UpdateInput() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body UpdateInputBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		col, ok := a.collectorFor(c, c.Param("request_id"), body.Collector, body.User)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		cleaned, err := col.CleanPayload(ctx, collector.Payload{
			InstrumentID: body.Instrument,
			MeasureID:    body.Measure,
			Data:         body.Data,
		})
		if err != nil {
			a.metrics.PayloadsCleaned.WithLabelValues(cleanOutcome(err)).Inc()
			a.respondError(c, err)
			return
		}
		a.metrics.PayloadsCleaned.WithLabelValues("ok").Inc()

		input, err := col.Store(ctx, cleaned.Instrument, cleaned.Data, c.Param("input_id"))
		if err != nil {
			a.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, input)
	}
}
