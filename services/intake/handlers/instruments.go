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

	"github.com/gin-gonic/gin"
)

// ListInstruments returns a request's instruments in display order.
func (a *API) ListInstruments() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := a.store.CollectionRequest(c.Request.Context(), c.Param("request_id")); err != nil {
			a.respondError(c, err)
			return
		}
		instruments, err := a.store.Instruments(c.Request.Context(), c.Param("request_id"))
		if err != nil {
			a.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instruments": instruments})
	}
}

// InstrumentAllowed evaluates whether an instrument is open for the
// caller: its condition gate and, when data could still be accepted,
// its capacity ceilings.
func (a *API) InstrumentAllowed() gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := a.collectorFor(c, c.Param("request_id"), "", "")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		inst, err := a.store.Instrument(ctx, col.Request().ID, c.Param("instrument_id"))
		if err != nil {
			a.respondError(c, err)
			return
		}

		gateOpen, err := col.IsInstrumentAllowed(ctx, inst)
		if err != nil {
			a.metrics.ConditionEvaluations.WithLabelValues("error").Inc()
			a.respondError(c, err)
			return
		}
		outcome := "blocked"
		if gateOpen {
			outcome = "allowed"
		}
		a.metrics.ConditionEvaluations.WithLabelValues(outcome).Inc()

		hasCapacity := false
		if gateOpen {
			hasCapacity, err = col.IsInputAllowed(ctx, inst)
			if err != nil {
				a.respondError(c, err)
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"instrument":   inst.ID,
			"allowed":      gateOpen,
			"has_capacity": hasCapacity,
		})
	}
}

// ConditionBreakdown returns each condition's individual verdict for
// an instrument, for clients debugging why a gate is closed.
func (a *API) ConditionBreakdown() gin.HandlerFunc {
	return func(c *gin.Context) {
		col, ok := a.collectorFor(c, c.Param("request_id"), "", "")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		inst, err := a.store.Instrument(ctx, col.Request().ID, c.Param("instrument_id"))
		if err != nil {
			a.respondError(c, err)
			return
		}

		results, err := col.ConditionBreakdown(ctx, inst)
		if err != nil {
			a.metrics.ConditionEvaluations.WithLabelValues("error").Inc()
			a.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"instrument": inst.ID,
			"conditions": results,
		})
	}
}
