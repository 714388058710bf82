// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package designer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
	"github.com/AleutianAI/DesignAgent/services/designer/telemetry"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Server:  ServerConfig{GinMode: "test"},
		Uploads: UploadsConfig{Dir: t.TempDir()},
		Providers: ProvidersConfig{
			Vision: "static",
		},
		Pipeline: PipelineConfig{
			Retry: stages.RetryPolicy{
				MaxAttempts:    2,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
				BackoffFactor:  2,
			},
		},
		TTL: TTLConfig{Enabled: boolPtr(false)},
		Telemetry: telemetry.Config{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}

func newTestService(t *testing.T, cfg Config) Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, Options{Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func serve(svc Service, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

func uploadPhoto(t *testing.T, svc Service) datatypes.UploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="room.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := serve(svc, http.MethodPost, "/api/upload", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func runToCompletion(t *testing.T, svc Service) string {
	t.Helper()
	up := uploadPhoto(t, svc)
	require.Equal(t, http.StatusOK, serve(svc, http.MethodPost, "/api/agent/start/"+up.SessionID, nil, "").Code)
	require.Eventually(t, func() bool {
		w := serve(svc, http.MethodGet, "/api/agent/status/"+up.SessionID, nil, "")
		var st datatypes.StatusResponse
		_ = json.Unmarshal(w.Body.Bytes(), &st)
		return st.Status == datatypes.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	return up.SessionID
}

func TestService_EndToEnd(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	up := uploadPhoto(t, svc)
	w := serve(svc, http.MethodGet, "/"+up.FilePath, nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "uploads are served statically")

	id := runToCompletion(t, svc)
	w = serve(svc, http.MethodGet, "/api/agent/results/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res datatypes.FinalResults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.FurnitureItems)
	assert.Greater(t, res.TotalCostEstimate, 0.0)

	w = serve(svc, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "designagent_pipeline_sessions_started_total 1")
	assert.Contains(t, w.Body.String(), `designagent_pipeline_sessions_finished_total{status="completed"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = serve(svc, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
}

func TestService_CORS(t *testing.T) {
	svc := newTestService(t, testConfig(t))
	req := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestService_AccessLog(t *testing.T) {
	var buf bytes.Buffer
	prev := gin.DefaultWriter
	gin.DefaultWriter = &buf
	t.Cleanup(func() { gin.DefaultWriter = prev })

	svc := newTestService(t, testConfig(t))
	w := serve(svc, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "/api/health")
	assert.Contains(t, buf.String(), "200")
}

func TestService_UploadRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.UploadRateLimit.RequestsPerSecond = 0.001
	cfg.Server.UploadRateLimit.Burst = 1
	svc := newTestService(t, cfg)

	uploadPhoto(t, svc)
	w := serve(svc, http.MethodPost, "/api/upload", strings.NewReader(""), "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, serve(svc, http.MethodGet, "/metrics", nil, "").Body.String(),
		`designagent_api_uploads_total{outcome="rate_limited"} 1`)
}

func TestService_BadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "badger"
	cfg.Store.Badger.InMemory = true
	svc := newTestService(t, cfg)

	id := runToCompletion(t, svc)
	w := serve(svc, http.MethodGet, "/api/agent/plan/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Shopping Results")
}

func TestService_TTLSchedulerStartsAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.TTL.Enabled = boolPtr(true)
	svc := newTestService(t, cfg)
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close(), "close is idempotent")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Uploads.Backend = "ftp"
	_, err := New(context.Background(), cfg, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestService_Run(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig(t)
	cfg.Server.Port = port
	svc, err := New(context.Background(), cfg, Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
