// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the REST surface: collection request
// administration, input submission and the specification document.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/intake/services/intake/collection"
	"github.com/AleutianAI/intake/services/intake/collector"
	"github.com/AleutianAI/intake/services/intake/storage"
	"github.com/AleutianAI/intake/services/intake/telemetry"
)

// API bundles the dependencies the handlers close over.
type API struct {
	store   storage.Store
	metrics *telemetry.Metrics
	log     *slog.Logger

	// baseOpts apply to every collector the API builds, typically
	// method overrides installed at startup.
	baseOpts []collector.Option
}

// NewAPI builds the handler set. opts are applied to every collector
// constructed for a request.
func NewAPI(store storage.Store, metrics *telemetry.Metrics, log *slog.Logger, opts ...collector.Option) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{store: store, metrics: metrics, log: log, baseOpts: opts}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// collectorFor builds a collector for the addressed request. The
// collector identifier defaults to the built-in implementation; callers
// may select a registered alternative with the "collector" query
// parameter or body field.
func (a *API) collectorFor(c *gin.Context, requestID, identifier, userID string) (*collector.Collector, bool) {
	ctx := c.Request.Context()
	req, err := a.store.CollectionRequest(ctx, requestID)
	if err != nil {
		a.respondError(c, err)
		return nil, false
	}

	if identifier == "" {
		identifier = c.Query("collector")
	}
	if identifier == "" {
		identifier = collector.Identifier(collector.QualifiedName)
	}
	factory, err := collector.Resolve(identifier)
	if err != nil {
		a.respondError(c, err)
		return nil, false
	}

	if userID == "" {
		userID = c.Query("user")
	}
	cctx := collection.Context{
		UserID:     userID,
		LatestOnly: c.Query("latest_only") == "true",
	}

	opts := append([]collector.Option{collector.WithContext(cctx), collector.WithLogger(a.log)}, a.baseOpts...)
	col, err := factory(req, a.store, opts...)
	if err != nil {
		a.respondError(c, err)
		return nil, false
	}
	return col, true
}
