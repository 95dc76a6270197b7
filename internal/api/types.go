package api

// HeaderRunID carries the pipeline run id on delivery responses.
const HeaderRunID = "X-Deployhook-Run-Id"

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Repositories  int    `json:"repositories"`
}
