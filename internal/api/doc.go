// Package api serves the read-only JSON front end over the chapter index and
// the story store. Routes:
//   - GET /api/search?query=&offset=&limit= for ranked chapter hits.
//   - GET /api/stories/{id} for a stored story with its tags.
//   - GET /api/stats for story and document counts.
//   - GET /healthz and GET /metrics for probes and Prometheus.
package api
