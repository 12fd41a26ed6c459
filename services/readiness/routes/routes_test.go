// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModelKeeper/services/readiness/handlers"
	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes_RegistersLifecycleAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.New(nil, nil), promhttp.Handler())

	want := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/lifecycle/state"},
		{"POST", "/v1/lifecycle/check"},
		{"POST", "/v1/lifecycle/retry"},
		{"POST", "/v1/lifecycle/confirm-download"},
		{"POST", "/v1/lifecycle/change-path"},
		{"GET", "/v1/lifecycle/report"},
		{"GET", "/v1/lifecycle/ws"},
	}

	registered := map[string]bool{}
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, w := range want {
		assert.True(t, registered[w.method+" "+w.path], "missing route %s %s", w.method, w.path)
	}
}

func TestSetupRoutes_WithoutMetrics(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.New(nil, nil), nil)

	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestMetricsEndpointExposesLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	states := make([]string, len(lifecycle.AllStates))
	for i, s := range lifecycle.AllStates {
		states[i] = string(s)
	}
	metrics.RecordTransition(string(lifecycle.StateReady), states)

	router := gin.New()
	SetupRoutes(router, handlers.New(nil, nil), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "modelkeeper_lifecycle_transitions_total")
}
