// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command designagent runs the interior design agent HTTP service.
//
// # Usage
//
//	designagent serve --config designagent.yaml --port 8000
//	designagent version
//
// # Environment Variables
//
//   - DESIGNER_PORT: HTTP port (default: 8000)
//   - OPENAI_API_KEY: enables the OpenAI vision provider
//   - OPENAI_MODEL: chat model for analysis and planning
//   - SHOPPING_API_URL, SHOPPING_API_KEY: product search service
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//   - GIN_MODE, LOG_LEVEL
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	code := 0
	if err := rootCmd.Execute(); err != nil {
		code = 1
	}
	memguard.Purge()
	os.Exit(code)
}
