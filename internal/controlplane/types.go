package controlplane

import (
	"github.com/openmined/mirrorbox/internal/history"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/openmined/mirrorbox/internal/version"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Status        string        `json:"status"`
	Timestamp     string        `json:"ts"`
	Version       version.Info  `json:"version"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	MemoryRSS     uint64        `json:"memory_rss"`
	Syncing       bool          `json:"syncing"`
	Progress      report.Record `json:"progress"`
}

type SyncResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

type HistoryResponse struct {
	Rows []history.Row `json:"rows"`
}
