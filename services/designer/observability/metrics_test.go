// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("completed")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeTasks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsFinished.WithLabelValues("completed")))

	m.ObserveStage("shop", "success", 2*time.Second, 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.stageAttempts.WithLabelValues("shop", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))

	m.ItemFailures(2)
	m.ItemFailures(0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.itemFailures))

	m.SessionsExpired(3)
	m.SetLiveSessions(7)
	m.Upload("accepted")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ttlExpired))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sessionsLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("accepted")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("error")
		m.ObserveStage("analyze", "timeout", time.Second, 3)
		m.ItemFailures(1)
		m.SessionsExpired(1)
		m.SetLiveSessions(1)
		m.Upload("rejected")
	})
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
