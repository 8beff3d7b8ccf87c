// Package server exposes the analysis pipeline over HTTP.
//
// Routes:
//
//	POST /api/v1/analyze-map                  submit a map image, returns 202
//	GET  /api/v1/jobs/{id}                    job status and result
//	GET  /api/v1/jobs/{id}/segments/{name}    segment crop as image/png
//	GET  /health                              liveness probe
//
// Uploads are accepted either as a multipart form with a "file" field or as
// a raw image body. Errors use a JSON envelope with a machine-readable code.
package server
