// Package handlers provides HTTP request handlers for the plant-care API.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"plantcare-engine/internal/api/response"
	"plantcare-engine/internal/config"
)

const (
	statusHealthy   = "healthy"
	statusWarning   = "warning"
	statusUnhealthy = "unhealthy"
)

// Probe checks one backing service
type Probe func(ctx context.Context) error

// HealthHandler provides health check functionality
type HealthHandler struct {
	config    *config.Config
	probe     Probe
	version   string
	startTime time.Time
}

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status    string           `json:"status"`
	Server    string           `json:"server"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	System    SystemInfo       `json:"system"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// SystemInfo represents system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemoryMB     uint64 `json:"memory_mb"`
}

// NewHealthHandler creates a health handler; probe may be nil
func NewHealthHandler(cfg *config.Config, probe Probe, version string) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		probe:     probe,
		version:   version,
		startTime: time.Now(),
	}
}

// Handle processes health check requests
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Server:    "plantcare-engine",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks: map[string]Check{
			"backends": h.checkBackends(ctx),
			"memory":   checkMemory(),
			"config":   h.checkConfiguration(),
		},
		System: systemInfo(),
	}
	status.Status = overallStatus(status.Checks)

	statusCode := http.StatusOK
	if status.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	response.WriteStatus(w, statusCode, status)
}

func (h *HealthHandler) checkBackends(ctx context.Context) Check {
	if h.probe == nil {
		return Check{Status: statusHealthy, Message: "No probe configured"}
	}
	start := time.Now()
	if err := h.probe(ctx); err != nil {
		return Check{
			Status:  statusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start).Round(time.Millisecond).String(),
		}
	}
	return Check{
		Status:  statusHealthy,
		Message: "Task store reachable",
		Latency: time.Since(start).Round(time.Millisecond).String(),
	}
}

func checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc/1024/1024 > 500 {
		return Check{Status: statusWarning, Message: "High memory usage"}
	}
	return Check{Status: statusHealthy, Message: "Memory usage normal"}
}

func (h *HealthHandler) checkConfiguration() Check {
	if h.config == nil {
		return Check{Status: statusWarning, Message: "No configuration loaded"}
	}
	if err := h.config.Validate(); err != nil {
		return Check{Status: statusWarning, Message: "Configuration validation warning: " + err.Error()}
	}
	return Check{Status: statusHealthy, Message: "Configuration valid"}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     m.Alloc / 1024 / 1024,
	}
}

func overallStatus(checks map[string]Check) string {
	hasWarning := false
	for _, check := range checks {
		switch check.Status {
		case statusUnhealthy:
			return statusUnhealthy
		case statusWarning:
			hasWarning = true
		}
	}
	if hasWarning {
		return statusWarning
	}
	return statusHealthy
}
