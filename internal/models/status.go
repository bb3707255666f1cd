package models

// DiskStats describes disk usage of the volume backing the storage roots.
type DiskStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// StatusResponse is returned by the status endpoint so the GUI can show
// uptime, connection count and remaining disk space.
type StatusResponse struct {
	Uptime      float64   `json:"uptime"`
	Connections int64     `json:"connections"`
	Disk        DiskStats `json:"disk"`
}
