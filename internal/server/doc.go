// Package server implements the HTTP API of the GreenVoice service: health,
// upload transcription, live recording control and recording status, mounted both at the root and
// under /api, plus the Prometheus metrics endpoint. CORS preflight requests are
// answered with 200 and an empty body on every path.
package server
