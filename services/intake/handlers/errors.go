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
	"github.com/AleutianAI/intake/services/intake/storage"
)

// statusFor maps domain errors onto HTTP statuses: caller mistakes are
// 400, gate and capacity refusals 403, missing records 404, everything
// else a 500.
func statusFor(err error) int {
	var (
		validation   *collector.ValidationError
		availability *collector.AvailabilityError
		unknown      *collector.UnknownCollectorError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &availability):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// cleanOutcome labels a clean failure for the payloads_cleaned metric.
func cleanOutcome(err error) string {
	var (
		validation   *collector.ValidationError
		availability *collector.AvailabilityError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &availability):
		if availability.Limit != "" {
			return "capacity"
		}
		return "gated"
	default:
		return "error"
	}
}
