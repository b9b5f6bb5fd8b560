// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the handler set onto a gin engine.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/intake/services/intake/handlers"
	"github.com/AleutianAI/intake/services/intake/telemetry"
)

// Config carries the collaborators and limits for the HTTP surface.
type Config struct {
	API     *handlers.API
	Metrics *telemetry.Metrics

	// Gatherer backs the /metrics endpoint. Nil uses the process
	// default.
	Gatherer prometheus.Gatherer

	// RequestsPerSecond applies a global rate limit to /v1. Zero
	// disables limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size; defaults to the rate
	// rounded up when unset.
	Burst int
}

// Setup registers every route on the engine.
func Setup(router *gin.Engine, cfg Config) {
	router.GET("/health", handlers.HealthCheck)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	if cfg.Metrics != nil {
		v1.Use(cfg.Metrics.Middleware())
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
		v1.Use(RateLimit(rate.Limit(cfg.RequestsPerSecond), burst))
	}
	{
		v1.POST("/requests", cfg.API.CreateRequest())
		requests := v1.Group("/requests/:request_id")
		{
			requests.GET("", cfg.API.GetRequest())
			requests.GET("/specification", cfg.API.GetSpecification())
			requests.GET("/instruments", cfg.API.ListInstruments())
			requests.GET("/instruments/:instrument_id/allowed", cfg.API.InstrumentAllowed())
			requests.GET("/instruments/:instrument_id/breakdown", cfg.API.ConditionBreakdown())
			requests.POST("/inputs", cfg.API.SubmitInputs())
			requests.PUT("/inputs/:input_id", cfg.API.UpdateInput())
		}
	}
}

// RateLimit refuses requests beyond the global token bucket with a 429.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
