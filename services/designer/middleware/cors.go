// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig builds the cors settings for allowedOrigins. An empty list or
// a "*" entry allows every origin; other entries may use a "*" wildcard,
// e.g. "https://*.example.com".
func CORSConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		AllowWildcard: true,
		MaxAge:        10 * time.Minute,
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			return cfg
		}
		cfg.AllowOrigins = append(cfg.AllowOrigins, strings.TrimRight(o, "/"))
	}
	cfg.AllowAllOrigins = len(cfg.AllowOrigins) == 0
	return cfg
}

// CORS returns the cors middleware for allowedOrigins. Call
// CORSConfig(allowedOrigins).Validate() first: cors.New panics on an
// invalid origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(CORSConfig(allowedOrigins))
}
