package handlers

import (
	"net/http"
	"runtime"
	"time"

	"photo-rater/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Scanning   bool   `json:"scanning"`
	LastScan   string `json:"lastScan,omitempty"`
	PhotoCount int    `json:"photoCount"`

	// Feature availability
	Thumbnails  bool `json:"thumbnails"`
	Transcoding bool `json:"transcoding"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	lastScan := h.lastScan
	photoCount := h.lastPhotoCount
	scanning := h.scanning
	h.mu.Unlock()

	response := HealthResponse{
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Scanning:     scanning,
		PhotoCount:   photoCount,
		Thumbnails:   h.config.ThumbnailsEnabled,
		Transcoding:  h.config.TranscodeEnabled,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if lastScan.IsZero() {
		response.Status = statusStarting
	} else {
		response.Status = statusHealthy
		response.LastScan = lastScan.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}
