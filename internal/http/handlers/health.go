package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/uomlabs/uom/internal/database"
	"github.com/uomlabs/uom/internal/version"
	"github.com/uomlabs/uom/pkg/httpclient"
)

var startTime = time.Now()

// HealthHandler serves health and readiness information.
type HealthHandler struct {
	db       *database.DB
	breakers *httpclient.CircuitBreakerManager
	logger   *slog.Logger
}

// NewHealthHandler creates a health handler. db and breakers may be nil; the
// corresponding sections are then omitted.
func NewHealthHandler(db *database.DB, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{db: db, breakers: breakers, logger: logger}
}

// LoadHealth reports system load averages.
type LoadHealth struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// MemoryHealth reports system and process memory usage.
type MemoryHealth struct {
	TotalBytes     uint64  `json:"totalBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
	SwapUsedBytes  uint64  `json:"swapUsedBytes"`
	ProcessRSS     uint64  `json:"processRss"`
}

// DatabaseHealth reports database connectivity.
type DatabaseHealth struct {
	Status  string `json:"status"`
	Driver  string `json:"driver,omitempty"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string                             `json:"status"`
	Version   string                             `json:"version"`
	Uptime    string                             `json:"uptime"`
	Timestamp time.Time                          `json:"timestamp"`
	Load      *LoadHealth                        `json:"load,omitempty"`
	Memory    *MemoryHealth                      `json:"memory,omitempty"`
	Database  *DatabaseHealth                    `json:"database,omitempty"`
	Breakers  map[string]httpclient.BreakerStats `json:"breakers,omitempty"`
}

// HealthOutput wraps the health response.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including system load, memory, database connectivity, and circuit breaker states.",
		Tags:        []string{"Health"},
	}, h.GetHealth)
}

// GetHealth returns the service health snapshot.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   version.Short(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}

	if avg, err := load.Avg(); err == nil {
		resp.Load = &LoadHealth{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}
	resp.Memory = h.memoryHealth()

	if h.db != nil {
		resp.Database = h.databaseHealth(ctx)
		if resp.Database.Status != "healthy" {
			resp.Status = "degraded"
		}
	}

	if h.breakers != nil {
		resp.Breakers = h.breakers.AllStats()
		for _, stats := range resp.Breakers {
			if stats.State == httpclient.CircuitOpen {
				resp.Status = "degraded"
				break
			}
		}
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) memoryHealth() *MemoryHealth {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	health := &MemoryHealth{
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		UsedPercent:    vm.UsedPercent,
	}
	if swap, err := mem.SwapMemory(); err == nil {
		health.SwapUsedBytes = swap.Used
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			health.ProcessRSS = info.RSS
		}
	}
	return health
}

func (h *HealthHandler) databaseHealth(ctx context.Context) *DatabaseHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.db.Ping(pingCtx); err != nil {
		return &DatabaseHealth{Status: "unhealthy", Driver: h.db.Driver(), Error: err.Error()}
	}
	return &DatabaseHealth{
		Status:  "healthy",
		Driver:  h.db.Driver(),
		Latency: time.Since(start).Round(time.Microsecond).String(),
	}
}
